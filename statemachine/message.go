package statemachine

import (
	"time"

	failover "github.com/getpup/failover-manager"
)

// Message is a reply or request from a replica host, folded into the unit before
// any other task runs.
type Message interface {
	// FailoverUnitID is the unit the message is addressed to.
	FailoverUnitID() string

	// Kind names the message body for logs and metrics.
	Kind() string

	apply(tc *taskContext)
}

// messageBody is implemented by every message body.
type messageBody interface {
	kind() string
	fold(tc *taskContext, from failover.ReplicaID)
}

// MessageBody is the closed set of bodies a FailoverUnitMessageTask can carry.
type MessageBody interface {
	AddReplicaReply | AddPrimaryReply | RemoveReplicaReply | DeleteReplicaReply | DoReconfigurationReply | ChangeConfiguration
	messageBody
}

// FailoverUnitMessageTask carries one message body from a replica to its unit.
type FailoverUnitMessageTask[T MessageBody] struct {
	// Unit is the ID of the addressed FailoverUnit.
	Unit string

	// From is the sending replica.
	From failover.ReplicaID

	// Body is the message payload.
	Body T
}

// NewMessageTask creates a message task for the unit with the given ID.
func NewMessageTask[T MessageBody](failoverUnitID string, from failover.ReplicaID, body T) *FailoverUnitMessageTask[T] {
	return &FailoverUnitMessageTask[T]{
		Unit: failoverUnitID,
		From: from,
		Body: body,
	}
}

// FailoverUnitID returns the ID of the addressed unit.
func (m *FailoverUnitMessageTask[T]) FailoverUnitID() string {
	return m.Unit
}

// Kind returns the name of the message body.
func (m *FailoverUnitMessageTask[T]) Kind() string {
	return m.Body.kind()
}

func (m *FailoverUnitMessageTask[T]) apply(tc *taskContext) {
	m.Body.fold(tc, m.From)
}

// ReplicaReport is the progress one replica reported to the primary.
type ReplicaReport struct {
	Replica        failover.ReplicaID
	SequenceNumber int64
}

// AddReplicaReply acknowledges an AddReplica or AddInstance request.
type AddReplicaReply struct {
	// SequenceNumber is the last sequence number the new replica acknowledged.
	SequenceNumber int64

	// Error is set when the replica could not be built.
	Error error
}

// AddInstanceReply acknowledges an AddInstance request.
type AddInstanceReply = AddReplicaReply

// AddPrimaryReply acknowledges an AddPrimary request.
type AddPrimaryReply struct {
	Error error
}

// RemoveReplicaReply acknowledges a RemoveReplica or RemoveInstance request.
type RemoveReplicaReply struct {
	Error error
}

// RemoveInstanceReply acknowledges a RemoveInstance request.
type RemoveInstanceReply = RemoveReplicaReply

// DeleteReplicaReply acknowledges a DeleteReplica or DeleteInstance request.
type DeleteReplicaReply struct {
	Error error
}

// DeleteInstanceReply acknowledges a DeleteInstance request.
type DeleteInstanceReply = DeleteReplicaReply

// DoReconfigurationReply is sent by the incoming primary once the configuration at
// Epoch is in effect.
type DoReconfigurationReply struct {
	Epoch    failover.Epoch
	Replicas []ReplicaReport
	Error    error
}

// ChangeConfiguration asks the manager to make the sender primary, for example after
// the sender lost contact with the current primary.
type ChangeConfiguration struct{}

func (AddReplicaReply) kind() string        { return "AddReplicaReply" }
func (AddPrimaryReply) kind() string        { return "AddPrimaryReply" }
func (RemoveReplicaReply) kind() string     { return "RemoveReplicaReply" }
func (DeleteReplicaReply) kind() string     { return "DeleteReplicaReply" }
func (DoReconfigurationReply) kind() string { return "DoReconfigurationReply" }
func (ChangeConfiguration) kind() string    { return "ChangeConfiguration" }

// lookup resolves the sender, tracing messages for replicas the unit no longer has.
func lookup(tc *taskContext, from failover.ReplicaID, kind string) *failover.Replica {
	r, err := tc.ft.ReplicaByID(from)
	if err != nil {
		tc.debug("ignoring message", "message", kind, "replica", from, "reason", err)
		return nil
	}
	return r
}

func (b AddReplicaReply) fold(tc *taskContext, from failover.ReplicaID) {
	r := lookup(tc, from, b.kind())
	if r == nil {
		return
	}
	if !r.IsInBuild() || !r.IsCreating {
		tc.debug("ignoring duplicate reply", "message", b.kind(), "replica", from, "state", r.State)
		return
	}

	r.IsCreating = false
	if b.Error != nil {
		tc.touch(r)
		tc.info("replica build failed", "replica", from, "error", b.Error)
		return
	}
	r.State = failover.ReplicaStateReady
	if b.SequenceNumber > r.LastSequenceNumber {
		r.LastSequenceNumber = b.SequenceNumber
	}
	tc.touch(r)
	tc.info("replica ready", "replica", from)
}

func (b AddPrimaryReply) fold(tc *taskContext, from failover.ReplicaID) {
	ft := tc.ft
	r := lookup(tc, from, b.kind())
	if r == nil {
		return
	}
	if !r.IsPrimary() || !r.IsInBuild() || !r.IsCreating {
		tc.debug("ignoring duplicate reply", "message", b.kind(), "replica", from, "state", r.State)
		return
	}

	r.IsCreating = false
	if b.Error != nil {
		tc.touch(r)
		tc.info("primary build failed", "replica", from, "error", b.Error)
		return
	}
	r.State = failover.ReplicaStateReady
	r.PreviousConfigurationRole = failover.RolePrimary
	ft.PreviousConfigurationEpoch = ft.CurrentConfigurationEpoch
	ft.ReconfigurationStartedAt = time.Time{}
	tc.touch(r)
	tc.info("primary ready", "replica", from, "epoch", ft.CurrentConfigurationEpoch)
}

func (b RemoveReplicaReply) fold(tc *taskContext, from failover.ReplicaID) {
	r := lookup(tc, from, b.kind())
	if r == nil {
		return
	}
	if !r.PendingRemove || r.IsDropped() {
		tc.debug("ignoring duplicate reply", "message", b.kind(), "replica", from)
		return
	}

	r.PendingRemove = false
	if b.Error != nil {
		tc.touch(r)
		tc.info("replica removal failed", "replica", from, "error", b.Error)
		return
	}
	r.State = failover.ReplicaStateDropped
	tc.touch(r)
	tc.info("replica removed", "replica", from)
}

func (b DeleteReplicaReply) fold(tc *taskContext, from failover.ReplicaID) {
	r := lookup(tc, from, b.kind())
	if r == nil {
		return
	}
	if !r.PendingRemove {
		tc.debug("ignoring duplicate reply", "message", b.kind(), "replica", from)
		return
	}

	r.PendingRemove = false
	if b.Error != nil {
		tc.touch(r)
		tc.info("replica deletion failed", "replica", from, "error", b.Error)
		return
	}
	markDropped(r)
	r.IsDeleted = true
	tc.touch(r)
	tc.debug("replica deleted", "replica", from)
}

func (b DoReconfigurationReply) fold(tc *taskContext, from failover.ReplicaID) {
	ft := tc.ft
	if !ft.IsReconfiguring() || b.Epoch != ft.CurrentConfigurationEpoch {
		tc.debug("ignoring stale reconfiguration reply", "replica", from, "epoch", b.Epoch,
			"currentEpoch", ft.CurrentConfigurationEpoch)
		return
	}
	primary := lookup(tc, from, b.kind())
	if primary == nil {
		return
	}
	if !primary.IsPrimary() {
		tc.debug("ignoring reconfiguration reply from non-primary", "replica", from)
		return
	}
	if b.Error != nil {
		ft.ReconfigurationStartedAt = time.Time{}
		tc.dirty()
		tc.info("reconfiguration failed", "replica", from, "epoch", b.Epoch, "error", b.Error)
		return
	}

	for _, report := range b.Replicas {
		r, err := ft.ReplicaByID(report.Replica)
		if err != nil {
			continue
		}
		if report.SequenceNumber > r.LastSequenceNumber {
			r.LastSequenceNumber = report.SequenceNumber
		}
	}

	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		switch {
		case r.IsInCurrentConfiguration():
			if r.IsStandBy() {
				r.State = failover.ReplicaStateReady
			}
			if r.IsPrimary() {
				r.ToBePromoted = false
			}
		case r.IsInPreviousConfiguration() && !r.IsDropped():
			// A down leaver keeps its committed state as a data-loss survivor.
			if !r.IsUp {
				r.State = failover.ReplicaStateStandBy
			} else if !r.ToBeDropped {
				r.CurrentConfigurationRole = failover.RoleIdle
			}
		}
		r.PreviousConfigurationRole = r.CurrentConfigurationRole
		r.LastUpdated = tc.now
	}

	ft.PreviousConfigurationEpoch = ft.CurrentConfigurationEpoch
	ft.ReconfigurationStartedAt = time.Time{}
	tc.dirty()
	tc.info("reconfiguration completed", "primary", from, "epoch", ft.CurrentConfigurationEpoch)
}

func (b ChangeConfiguration) fold(tc *taskContext, from failover.ReplicaID) {
	ft := tc.ft
	reply := failover.Action{
		Kind:    failover.ActionChangeConfigurationReply,
		NodeID:  from.NodeID,
		Replica: from,
	}

	r := lookup(tc, from, b.kind())
	switch {
	case r == nil || !r.IsInCurrentConfiguration():
		reply.Error = failover.ErrNotInConfiguration
	case r.IsPrimary() || r.ToBePromoted:
	case ft.ToBePromotedReplica() != nil:
		reply.Error = failover.ErrPromotionPending
	default:
		r.ToBePromoted = true
		tc.touch(r)
		tc.info("replica requested promotion", "replica", from)
	}
	tc.emit(reply)
}
