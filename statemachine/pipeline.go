package statemachine

import (
	"context"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/pupsourcing/es"
)

// Config holds configuration for the Pipeline.
type Config struct {
	// Nodes reports node liveness. When nil, replica liveness is only changed by messages.
	Nodes NodeStatus

	// Policy selects nodes for new replicas and replicas to drop (default: DefaultPolicy with no nodes).
	Policy Policy

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// StandByReplicaKeepDuration is how long a StandBy replica is kept before it is dropped (default: 1h).
	StandByReplicaKeepDuration time.Duration

	// QuorumLossWaitDuration is how long to wait after quorum loss before declaring data loss (default: 0).
	QuorumLossWaitDuration time.Duration

	// ReconfigurationRetryInterval is how long to wait for a DoReconfiguration reply before resending (default: 30s).
	ReconfigurationRetryInterval time.Duration

	// AutoScaleMinInstances is the lower bound applied to auto-scaling targets (default: 1).
	AutoScaleMinInstances int

	// AutoScaleMaxInstances is the exclusive upper bound applied to auto-scaling targets.
	// Zero or negative means unbounded.
	AutoScaleMaxInstances int

	// Logger is for observability (optional).
	Logger es.Logger
}

// TaskKind names a static task of the pipeline.
type TaskKind int

const (
	// TaskStateUpdate reconciles replica liveness and drops replicas without committed state.
	TaskStateUpdate TaskKind = iota

	// TaskReconfiguration drives failover, swaps and configuration changes of stateful units.
	TaskReconfiguration

	// TaskPlacement adds and trims stateful replicas toward the target size.
	TaskPlacement

	// TaskStatelessCheck adds and trims stateless instances toward the target size.
	TaskStatelessCheck

	// TaskPending removes replicas marked ToBeDropped and deletes units marked for deletion.
	TaskPending
)

func (k TaskKind) String() string {
	switch k {
	case TaskStateUpdate:
		return "StateUpdate"
	case TaskReconfiguration:
		return "Reconfiguration"
	case TaskPlacement:
		return "Placement"
	case TaskStatelessCheck:
		return "StatelessCheck"
	case TaskPending:
		return "Pending"
	default:
		return "Unknown"
	}
}

var (
	statefulTasks  = []TaskKind{TaskStateUpdate, TaskReconfiguration, TaskPlacement, TaskPending}
	statelessTasks = []TaskKind{TaskStateUpdate, TaskStatelessCheck, TaskPending}
)

// StaticTasks returns the ordered static tasks run for a unit.
func StaticTasks(isStateful bool) []TaskKind {
	if isStateful {
		return statefulTasks
	}
	return statelessTasks
}

// Pipeline evaluates one FailoverUnit and produces the actions needed to move it
// toward its target configuration. A Pipeline holds no per-unit state and may be
// shared between goroutines; the unit itself must be held exclusively by the caller.
type Pipeline struct {
	config Config
}

// New creates a new Pipeline with the given configuration.
// Applies default values for durations, clock and policy if not set.
func New(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy{}
	}
	if cfg.StandByReplicaKeepDuration == 0 {
		cfg.StandByReplicaKeepDuration = time.Hour
	}
	if cfg.ReconfigurationRetryInterval == 0 {
		cfg.ReconfigurationRetryInterval = 30 * time.Second
	}
	if cfg.AutoScaleMinInstances == 0 {
		cfg.AutoScaleMinInstances = 1
	}

	return &Pipeline{
		config: cfg,
	}
}

// Run folds the message (if any), applies the dynamic task (if any) and runs the
// static tasks in order, mutating ft in place. The returned actions must only be
// dispatched after the unit was validated and persisted.
func (p *Pipeline) Run(ctx context.Context, ft *failover.FailoverUnit, dynamic *DynamicTask, message Message) []failover.Action {
	if ft.IsDeleted {
		return nil
	}

	tc := &taskContext{
		ctx:    ctx,
		ft:     ft,
		now:    p.config.Clock(),
		logger: p.config.Logger,
	}

	if message != nil {
		message.apply(tc)
	}
	if dynamic != nil {
		p.runDynamic(tc, dynamic)
	}
	for _, kind := range StaticTasks(ft.IsStateful) {
		p.runStatic(tc, kind)
	}

	return tc.actions
}

func (p *Pipeline) runStatic(tc *taskContext, kind TaskKind) {
	switch kind {
	case TaskStateUpdate:
		p.updateState(tc)
	case TaskReconfiguration:
		p.reconfigure(tc)
	case TaskPlacement:
		p.place(tc)
	case TaskStatelessCheck:
		p.checkStateless(tc)
	case TaskPending:
		p.processPending(tc)
	}
}

// taskContext carries one pass over one unit.
type taskContext struct {
	ctx     context.Context
	ft      *failover.FailoverUnit
	now     time.Time
	logger  es.Logger
	actions []failover.Action
}

func (tc *taskContext) emit(action failover.Action) {
	action.FailoverUnitID = tc.ft.ID
	tc.actions = append(tc.actions, action)
}

// emitFor emits a replica-scoped action delivered to node.
func (tc *taskContext) emitFor(kind failover.ActionKind, node failover.NodeID, r *failover.Replica) {
	tc.emit(failover.Action{Kind: kind, NodeID: node, Replica: r.ID()})
}

// touch records a mutation of r.
func (tc *taskContext) touch(r *failover.Replica) {
	r.LastUpdated = tc.now
	tc.dirty()
}

// dirty records a mutation of the unit itself.
func (tc *taskContext) dirty() {
	tc.ft.LastUpdated = tc.now
	tc.ft.MarkDirty()
}

func (tc *taskContext) debug(msg string, args ...interface{}) {
	if tc.logger != nil {
		tc.logger.Debug(tc.ctx, msg, append([]interface{}{"failoverUnitID", tc.ft.ID}, args...)...)
	}
}

func (tc *taskContext) info(msg string, args ...interface{}) {
	if tc.logger != nil {
		tc.logger.Info(tc.ctx, msg, append([]interface{}{"failoverUnitID", tc.ft.ID}, args...)...)
	}
}

func (tc *taskContext) error(msg string, args ...interface{}) {
	if tc.logger != nil {
		tc.logger.Error(tc.ctx, msg, append([]interface{}{"failoverUnitID", tc.ft.ID}, args...)...)
	}
}
