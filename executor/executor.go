package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/pupsourcing/es"
)

// ErrNoTransport is reported for node-bound actions when no Transport is configured.
var ErrNoTransport = errors.New("no transport configured")

// Config configures the action executor.
type Config struct {
	// Transport delivers node-bound actions (required for stateful traffic).
	Transport Transport

	// HealthReporter receives QuorumLost, DataLoss and DeleteService (optional).
	HealthReporter HealthReporter

	// Logger is an optional logger for observability.
	Logger es.Logger
}

// Executor dispatches pipeline actions through a Transport and a HealthReporter.
type Executor struct {
	config Config
}

// Compile-time check that Executor implements Dispatcher.
var _ Dispatcher = (*Executor)(nil)

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	return &Executor{config: cfg}
}

// FailedAction is an action the transport could not deliver.
type FailedAction struct {
	Action failover.Action
	Err    error
}

// DispatchError lists the actions of a pass that were not delivered.
type DispatchError struct {
	FailoverUnitID string
	Failed         []FailedAction
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Action, f.Err))
	}
	return fmt.Sprintf("failover unit %s: %d actions not delivered: %s", e.FailoverUnitID, len(e.Failed), strings.Join(parts, "; "))
}

// Dispatch delivers every action. Health signals and DeleteService go to the
// HealthReporter; DataLoss is always logged at error level. Delivery failures
// do not stop the remaining actions and are returned as a *DispatchError.
func (e *Executor) Dispatch(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error {
	var failed []FailedAction
	for _, a := range actions {
		switch a.Kind {
		case failover.ActionQuorumLost:
			if e.config.HealthReporter != nil {
				e.config.HealthReporter.ReportQuorumLost(ctx, ft, a)
			}
		case failover.ActionDataLoss:
			if e.config.Logger != nil {
				e.config.Logger.Error(ctx, "data loss", "failoverUnitID", ft.ID, "survivor", a.Replica, "epoch", ft.CurrentConfigurationEpoch)
			}
			if e.config.HealthReporter != nil {
				e.config.HealthReporter.ReportDataLoss(ctx, ft, a)
			}
		case failover.ActionDeleteService:
			if e.config.HealthReporter != nil {
				e.config.HealthReporter.ReportServiceDeleted(ctx, ft, a)
			}
			if e.config.Logger != nil {
				e.config.Logger.Info(ctx, "service deleted", "failoverUnitID", ft.ID, "serviceName", ft.ServiceName)
			}
		default:
			if err := e.send(ctx, a); err != nil {
				failed = append(failed, FailedAction{Action: a, Err: err})
				if e.config.Logger != nil {
					e.config.Logger.Error(ctx, "failed to send action", "failoverUnitID", ft.ID, "action", a.Kind, "node", a.NodeID, "error", err)
				}
			}
		}
	}

	if len(failed) > 0 {
		return &DispatchError{FailoverUnitID: ft.ID, Failed: failed}
	}
	return nil
}

func (e *Executor) send(ctx context.Context, a failover.Action) error {
	if e.config.Transport == nil {
		return ErrNoTransport
	}
	if err := e.config.Transport.Send(ctx, a.NodeID, a); err != nil {
		return err
	}
	if e.config.Logger != nil {
		e.config.Logger.Debug(ctx, "action sent", "failoverUnitID", a.FailoverUnitID, "action", a.Kind, "node", a.NodeID)
	}
	return nil
}
