package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/statemachine"
)

// Loopback is an in-process Transport that plays every replica host: each
// node-bound action is answered with the reply a healthy host would send.
type Loopback struct {
	// Deliver hands a reply back to the manager (required).
	Deliver func(msg statemachine.Message) error

	// Reachable reports whether a node accepts actions. Nil means every node does.
	Reachable func(nodeID failover.NodeID) bool

	// Delay postpones each reply. Zero delivers before Send returns.
	Delay time.Duration

	// SequenceNumber is reported as replica progress in build replies.
	SequenceNumber int64

	sent atomic.Int64
}

// Compile-time check that Loopback implements Transport.
var _ Transport = (*Loopback)(nil)

// Send answers action unless its node is unreachable.
func (l *Loopback) Send(ctx context.Context, nodeID failover.NodeID, action failover.Action) error {
	if l.Reachable != nil && !l.Reachable(nodeID) {
		return fmt.Errorf("node %s unreachable", nodeID)
	}
	l.sent.Add(1)

	msg := l.reply(action)
	if msg == nil {
		return nil
	}
	if l.Delay > 0 {
		time.AfterFunc(l.Delay, func() { _ = l.Deliver(msg) })
		return nil
	}
	return l.Deliver(msg)
}

// Sent returns how many actions were accepted.
func (l *Loopback) Sent() int64 {
	return l.sent.Load()
}

func (l *Loopback) reply(a failover.Action) statemachine.Message {
	msg := SuccessReply(a)
	if l.SequenceNumber == 0 {
		return msg
	}
	switch a.Kind {
	case failover.ActionAddReplica, failover.ActionAddInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.AddReplicaReply{SequenceNumber: l.SequenceNumber})
	}
	return msg
}

// SuccessReply is the reply a host sends after carrying out a. Actions that
// expect no reply return nil.
func SuccessReply(a failover.Action) statemachine.Message {
	switch a.Kind {
	case failover.ActionAddPrimary:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.AddPrimaryReply{})
	case failover.ActionAddReplica, failover.ActionAddInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.AddReplicaReply{})
	case failover.ActionRemoveReplica, failover.ActionRemoveInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.RemoveReplicaReply{})
	case failover.ActionDeleteReplica, failover.ActionDeleteInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.DeleteReplicaReply{})
	case failover.ActionDoReconfiguration:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.DoReconfigurationReply{Epoch: a.CurrentEpoch})
	default:
		return nil
	}
}
