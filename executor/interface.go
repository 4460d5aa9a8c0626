package executor

import (
	"context"

	failover "github.com/getpup/failover-manager"
)

// Dispatcher delivers the actions of one committed pipeline pass.
// This interface allows for mock implementations in tests.
type Dispatcher interface {
	// Dispatch delivers actions in order. A *DispatchError lists the actions
	// that could not be delivered; the others were.
	Dispatch(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error
}

// Transport sends an action to the replica host on a node.
type Transport interface {
	Send(ctx context.Context, nodeID failover.NodeID, action failover.Action) error
}

// HealthReporter receives the actions that are not sent to a node.
type HealthReporter interface {
	ReportQuorumLost(ctx context.Context, ft *failover.FailoverUnit, action failover.Action)
	ReportDataLoss(ctx context.Context, ft *failover.FailoverUnit, action failover.Action)
	ReportServiceDeleted(ctx context.Context, ft *failover.FailoverUnit, action failover.Action)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, nodeID failover.NodeID, action failover.Action) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, nodeID failover.NodeID, action failover.Action) error {
	return f(ctx, nodeID, action)
}
