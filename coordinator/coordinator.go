package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/linkedhashset"
	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/cache"
	"github.com/getpup/failover-manager/executor"
	"github.com/getpup/failover-manager/metrics"
	"github.com/getpup/failover-manager/statemachine"
	"github.com/getpup/pupsourcing/es"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Cache holds the failover units (required).
	Cache *cache.Cache

	// Pipeline runs the per-unit state machine (required).
	Pipeline *statemachine.Pipeline

	// Dispatcher delivers the actions of committed passes (required).
	Dispatcher executor.Dispatcher

	// Workers is the number of concurrent pipeline workers (default: 4).
	Workers int

	// ScanInterval is how often every unit gets a pass without input (default: 10s).
	ScanInterval time.Duration

	// DispatchRetryDelay is how long a failed delivery waits before it is reported
	// back to its unit as a failed reply (default: 1s).
	DispatchRetryDelay time.Duration

	// Metrics records pass metrics (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger es.Logger
}

// work is one queued input for a unit. The zero value is a pass without input.
type work struct {
	message statemachine.Message
	dynamic *statemachine.DynamicTask
}

// Coordinator delivers messages, movements and scans to failover units and runs
// their pipeline passes on a pool of workers. Inputs for one unit are processed
// in arrival order and never by two workers at once; different units run in parallel.
type Coordinator struct {
	config Config

	mu         sync.Mutex
	queues     map[string][]work
	ready      *linkedhashset.Set
	inProgress map[string]bool

	signal chan struct{}
}

// New creates a new Coordinator with the given configuration.
// Applies default values for workers and intervals if zero.
func New(cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.DispatchRetryDelay == 0 {
		cfg.DispatchRetryDelay = time.Second
	}

	return &Coordinator{
		config:     cfg,
		queues:     make(map[string][]work),
		ready:      linkedhashset.New(),
		inProgress: make(map[string]bool),
		signal:     make(chan struct{}, 1),
	}
}

// SubmitMessage queues a replica message for its unit without blocking.
// Returns failover.ErrFailoverUnitNotFound if the unit is not cached.
func (c *Coordinator) SubmitMessage(msg statemachine.Message) error {
	return c.submit(msg.FailoverUnitID(), work{message: msg})
}

// SubmitMovement queues a load balancer movement for the unit without blocking.
func (c *Coordinator) SubmitMovement(failoverUnitID string, m failover.Movement) error {
	return c.submit(failoverUnitID, work{dynamic: statemachine.NewMovementTask(m)})
}

// SubmitAutoScale queues a new target replica set size for the unit without blocking.
func (c *Coordinator) SubmitAutoScale(failoverUnitID string, target int) error {
	return c.submit(failoverUnitID, work{dynamic: statemachine.NewAutoScalingTask(target)})
}

func (c *Coordinator) submit(id string, w work) error {
	if !c.config.Cache.Contains(id) {
		return failover.ErrFailoverUnitNotFound
	}
	c.push(id, w)
	return nil
}

// Enqueue requests a pass without input for the unit. It is a no-op while the
// unit already has queued work, since every pass runs all tasks.
func (c *Coordinator) Enqueue(failoverUnitID string) {
	c.mu.Lock()
	if len(c.queues[failoverUnitID]) > 0 {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.push(failoverUnitID, work{})
}

// NodeStatusChanged enqueues every unit with a replica on the node and, when the
// node came up, every unit still short of replicas.
func (c *Coordinator) NodeStatusChanged(ctx context.Context, nodeID failover.NodeID, up bool) {
	count := 0
	for _, id := range c.config.Cache.IDs() {
		ft, err := c.config.Cache.Snapshot(id)
		if err != nil {
			continue
		}
		if ft.HasReplicaOn(nodeID) || (up && ft.ReplicaDifference() > 0) {
			c.Enqueue(id)
			count++
		}
	}

	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "node status change enqueued failover units", "nodeID", nodeID, "up", up, "count", count)
	}
}

// Pending returns the number of units waiting for a worker.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Size()
}

func (c *Coordinator) push(id string, w work) {
	c.mu.Lock()
	c.queues[id] = append(c.queues[id], w)
	if !c.inProgress[id] {
		c.ready.Add(id)
	}
	c.mu.Unlock()
	c.wake()
}

func (c *Coordinator) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// next takes the oldest ready unit and the head of its queue.
func (c *Coordinator) next() (string, work, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := c.ready.Iterator()
	if !it.Next() {
		return "", work{}, false
	}
	id := it.Value().(string)
	c.ready.Remove(id)

	queue := c.queues[id]
	w := queue[0]
	if len(queue) == 1 {
		delete(c.queues, id)
	} else {
		c.queues[id] = queue[1:]
	}
	c.inProgress[id] = true

	if c.ready.Size() > 0 {
		c.wake()
	}
	return id, w, true
}

func (c *Coordinator) done(id string) {
	c.mu.Lock()
	delete(c.inProgress, id)
	if len(c.queues[id]) > 0 {
		c.ready.Add(id)
	}
	c.mu.Unlock()
	c.wake()
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	delete(c.queues, id)
	c.ready.Remove(id)
	c.mu.Unlock()
}

// Run starts the workers and the scan loop and blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < c.config.Workers; i++ {
		g.Go(func() error {
			c.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return c.StartScan(ctx)
	})

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "coordinator started", "workers", c.config.Workers, "scanInterval", c.config.ScanInterval)
	}
	return g.Wait()
}

func (c *Coordinator) work(ctx context.Context) {
	for {
		id, w, ok := c.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.signal:
			}
			continue
		}
		c.process(ctx, id, w)
		c.done(id)

		if ctx.Err() != nil {
			return
		}
	}
}

// StartScan enqueues every idle unit at the configured interval until ctx is cancelled.
func (c *Coordinator) StartScan(ctx context.Context) error {
	ticker := time.NewTicker(c.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Scan(ctx)
		}
	}
}

// Scan enqueues a pass for every unit without queued or running work.
func (c *Coordinator) Scan(ctx context.Context) {
	ids := c.config.Cache.IDs()

	c.mu.Lock()
	for _, id := range ids {
		if len(c.queues[id]) > 0 || c.inProgress[id] {
			continue
		}
		c.queues[id] = []work{{}}
		c.ready.Add(id)
	}
	pending := c.ready.Size()
	c.mu.Unlock()
	c.wake()

	if c.config.Metrics != nil {
		c.config.Metrics.SetFailoverUnits(len(ids))
		c.config.Metrics.SetQueuedFailoverUnits(pending)
	}
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "scan enqueued failover units", "units", len(ids), "pending", pending)
	}
}

// process runs one pass: lock, run, validate, commit, dispatch. Any failure
// before the commit discards the pass and its actions.
func (c *Coordinator) process(ctx context.Context, id string, w work) {
	start := time.Now()
	if c.config.Metrics != nil {
		c.config.Metrics.IncPasses()
		defer func() {
			c.config.Metrics.ObservePassDuration(time.Since(start).Seconds())
		}()
	}

	locked, err := c.config.Cache.Lock(ctx, id)
	if err != nil {
		if errors.Is(err, failover.ErrFailoverUnitNotFound) {
			c.forget(id)
			c.debug(ctx, "dropping work for unknown failover unit", "failoverUnitID", id)
			return
		}
		c.error(ctx, "failed to lock failover unit", "failoverUnitID", id, "error", err)
		return
	}
	defer locked.Release()

	ft := locked.FailoverUnit()
	actions := c.config.Pipeline.Run(ctx, ft, w.dynamic, w.message)

	if err := ft.Validate(); err != nil {
		c.passFailed(ctx, "validate", id, err)
		return
	}

	state := ft.PersistenceState
	if err := locked.Commit(ctx); err != nil {
		c.passFailed(ctx, "persist", id, err)
		return
	}

	if len(actions) > 0 {
		if c.config.Metrics != nil {
			c.config.Metrics.ObserveActions(actions)
		}
		if err := c.config.Dispatcher.Dispatch(ctx, ft, actions); err != nil {
			c.dispatchFailed(ctx, id, err)
		}
	}

	switch state {
	case failover.PersistenceDelete:
		c.forget(id)
		c.info(ctx, "failover unit deleted", "failoverUnitID", id)
	case failover.PersistenceNoChange:
	default:
		// Multi-step transitions continue on the next pass.
		c.Enqueue(id)
	}
}

func (c *Coordinator) passFailed(ctx context.Context, reason, id string, err error) {
	if c.config.Metrics != nil {
		c.config.Metrics.IncPassFailures(reason)
	}
	c.error(ctx, "pipeline pass discarded", "failoverUnitID", id, "reason", reason, "error", err)
}

// dispatchFailed reports undelivered actions back to their unit as failed
// replies after DispatchRetryDelay, which clears the markers that suppress a resend.
func (c *Coordinator) dispatchFailed(ctx context.Context, id string, err error) {
	var dispatchErr *executor.DispatchError
	if !errors.As(err, &dispatchErr) {
		c.error(ctx, "failed to dispatch actions", "failoverUnitID", id, "error", err)
		return
	}
	if c.config.Metrics != nil {
		c.config.Metrics.AddDispatchFailures(len(dispatchErr.Failed))
	}

	var replies []statemachine.Message
	for _, f := range dispatchErr.Failed {
		if msg := failureReply(f.Action, f.Err); msg != nil {
			replies = append(replies, msg)
		}
	}
	if len(replies) == 0 {
		return
	}

	time.AfterFunc(c.config.DispatchRetryDelay, func() {
		for _, msg := range replies {
			_ = c.SubmitMessage(msg)
		}
	})
}

// failureReply is the reply a host would send had it rejected the action.
func failureReply(a failover.Action, err error) statemachine.Message {
	switch a.Kind {
	case failover.ActionAddPrimary:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.AddPrimaryReply{Error: err})
	case failover.ActionAddReplica, failover.ActionAddInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.AddReplicaReply{Error: err})
	case failover.ActionRemoveReplica, failover.ActionRemoveInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.RemoveReplicaReply{Error: err})
	case failover.ActionDeleteReplica, failover.ActionDeleteInstance:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.DeleteReplicaReply{Error: err})
	case failover.ActionDoReconfiguration:
		return statemachine.NewMessageTask(a.FailoverUnitID, a.Replica, statemachine.DoReconfigurationReply{Epoch: a.CurrentEpoch, Error: err})
	default:
		return nil
	}
}

func (c *Coordinator) debug(ctx context.Context, msg string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, msg, args...)
	}
}

func (c *Coordinator) info(ctx context.Context, msg string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, msg, args...)
	}
}

func (c *Coordinator) error(ctx context.Context, msg string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(ctx, msg, args...)
	}
}
