package failovermanager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/cache"
	"github.com/getpup/failover-manager/coordinator"
	"github.com/getpup/failover-manager/executor"
	"github.com/getpup/failover-manager/lifecycle"
	"github.com/getpup/failover-manager/metrics"
	"github.com/getpup/failover-manager/statemachine"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned by Health while Run is not active.
var ErrNotRunning = errors.New("failover manager not running")

// ServiceDescription describes the failover unit to create for a service partition.
type ServiceDescription struct {
	// ServiceName is the owning service.
	ServiceName string

	// IsStateful selects primary/secondary replication instead of independent instances.
	IsStateful bool

	// TargetReplicaSetSize is the desired number of replicas or instances.
	TargetReplicaSetSize int

	// MinReplicaSetSize is the quorum floor for stateful units (default: 1).
	MinReplicaSetSize int
}

// Manager keeps failover units placed on live nodes and reconfigures them as
// nodes come and go.
type Manager struct {
	config      *config
	cache       *cache.Cache
	nodes       *lifecycle.Manager
	coordinator *coordinator.Coordinator
	collector   *metrics.Collector
	running     atomic.Bool
	loaded      atomic.Bool
}

func newManager(cfg *config) *Manager {
	m := &Manager{config: cfg}

	// Create metrics collector if enabled (default: true)
	metricsEnabled := true
	if cfg.metricsEnabled != nil {
		metricsEnabled = *cfg.metricsEnabled
	}
	if metricsEnabled {
		m.collector = metrics.NewCollector(cfg.name)
	}

	m.cache = cache.New(cfg.store)

	m.nodes = lifecycle.New(lifecycle.Config{
		NodeDownTimeout:    cfg.nodeDownTimeout,
		CheckInterval:      cfg.nodeCheckInterval,
		Clock:              cfg.clock,
		OnNodeStatusChange: m.nodeStatusChanged,
		Logger:             cfg.logger,
	})

	policy := cfg.policy
	if policy == nil {
		policy = statemachine.DefaultPolicy{Nodes: m.nodes}
	}
	pipeline := statemachine.New(statemachine.Config{
		Nodes:                        m.nodes,
		Policy:                       policy,
		Clock:                        cfg.clock,
		StandByReplicaKeepDuration:   cfg.standByReplicaKeepDuration,
		QuorumLossWaitDuration:       cfg.quorumLossWaitDuration,
		ReconfigurationRetryInterval: cfg.reconfigurationRetryInterval,
		AutoScaleMinInstances:        cfg.autoScaleMinInstances,
		AutoScaleMaxInstances:        cfg.autoScaleMaxInstances,
		Logger:                       cfg.logger,
	})

	dispatcher := cfg.dispatcher
	if dispatcher == nil {
		dispatcher = executor.New(executor.Config{
			Transport:      cfg.transport,
			HealthReporter: cfg.healthReporter,
			Logger:         cfg.logger,
		})
	}

	m.coordinator = coordinator.New(coordinator.Config{
		Cache:              m.cache,
		Pipeline:           pipeline,
		Dispatcher:         dispatcher,
		Workers:            cfg.workers,
		ScanInterval:       cfg.scanInterval,
		DispatchRetryDelay: cfg.dispatchRetryDelay,
		Metrics:            m.collector,
		Logger:             cfg.logger,
	})

	return m
}

// Run loads the persisted failover units and drives them until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("failover manager already running")
	}
	defer m.running.Store(false)

	loaded, err := m.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load failover units: %w", err)
	}
	m.info(ctx, "failover manager started", "name", m.config.name, "loaded", loaded, "failoverUnits", m.cache.Len())

	for _, id := range m.cache.IDs() {
		m.coordinator.Enqueue(id)
	}
	m.loaded.Store(true)
	defer m.loaded.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.coordinator.Run(ctx)
	})
	g.Go(func() error {
		return m.nodes.StartMonitor(ctx)
	})

	err = g.Wait()
	m.info(ctx, "failover manager stopped", "name", m.config.name)
	return err
}

// Health reports whether Run is active and has loaded the store. It fits
// metrics.Server.HandleHealth.
func (m *Manager) Health() error {
	if !m.loaded.Load() {
		return ErrNotRunning
	}
	return nil
}

// CreateFailoverUnit persists a new failover unit for desc and schedules its
// first pass. It returns the generated unit ID.
func (m *Manager) CreateFailoverUnit(ctx context.Context, desc ServiceDescription) (string, error) {
	if desc.TargetReplicaSetSize < 1 {
		return "", fmt.Errorf("target replica set size must be positive, got %d", desc.TargetReplicaSetSize)
	}
	if desc.MinReplicaSetSize == 0 {
		desc.MinReplicaSetSize = 1
	}

	ft := failover.NewFailoverUnit(uuid.NewString(), desc.ServiceName, desc.IsStateful, desc.TargetReplicaSetSize, desc.MinReplicaSetSize)
	if err := ft.Validate(); err != nil {
		return "", fmt.Errorf("invalid failover unit: %w", err)
	}
	if err := m.cache.Add(ctx, ft); err != nil {
		return "", err
	}

	m.info(ctx, "failover unit created", "failoverUnitID", ft.ID, "serviceName", desc.ServiceName,
		"stateful", desc.IsStateful, "target", desc.TargetReplicaSetSize)
	m.coordinator.Enqueue(ft.ID)
	return ft.ID, nil
}

// DeleteService marks the failover unit as orphaned. Its replicas are removed
// over the following passes and the unit is deleted after the last one.
func (m *Manager) DeleteService(ctx context.Context, failoverUnitID string) error {
	locked, err := m.cache.Lock(ctx, failoverUnitID)
	if err != nil {
		return err
	}
	defer locked.Release()

	ft := locked.FailoverUnit()
	if ft.IsOrphaned {
		return nil
	}
	ft.IsOrphaned = true
	ft.PersistenceState = failover.PersistenceUpdate
	if err := locked.Commit(ctx); err != nil {
		return err
	}

	m.info(ctx, "service deletion requested", "failoverUnitID", failoverUnitID)
	m.coordinator.Enqueue(failoverUnitID)
	return nil
}

// HandleMessage queues a reply or request from a replica host.
func (m *Manager) HandleMessage(msg statemachine.Message) error {
	return m.coordinator.SubmitMessage(msg)
}

// Move queues a movement for the failover unit. A missing DecisionID is generated.
func (m *Manager) Move(failoverUnitID string, movement Movement) (string, error) {
	if movement.DecisionID == "" {
		movement.DecisionID = uuid.NewString()
	}
	if err := m.coordinator.SubmitMovement(failoverUnitID, movement); err != nil {
		return "", err
	}
	return movement.DecisionID, nil
}

// Scale queues a new target replica set size for the failover unit.
func (m *Manager) Scale(failoverUnitID string, target int) error {
	return m.coordinator.SubmitAutoScale(failoverUnitID, target)
}

// Heartbeat records that a replica host is alive.
func (m *Manager) Heartbeat(ctx context.Context, nodeID NodeID) {
	m.nodes.Heartbeat(ctx, nodeID)
}

// MarkNodeDown takes a node out of service without waiting for its heartbeat to expire.
func (m *Manager) MarkNodeDown(ctx context.Context, nodeID NodeID) {
	m.nodes.MarkNodeDown(ctx, nodeID)
}

// Nodes returns the liveness of every known node.
func (m *Manager) Nodes() []lifecycle.NodeInfo {
	return m.nodes.Nodes()
}

// FailoverUnit returns a copy of the committed state of a failover unit.
func (m *Manager) FailoverUnit(failoverUnitID string) (*FailoverUnit, error) {
	return m.cache.Snapshot(failoverUnitID)
}

// FailoverUnits returns copies of every failover unit, ordered by ID.
func (m *Manager) FailoverUnits() []*FailoverUnit {
	ids := m.cache.IDs()
	units := make([]*FailoverUnit, 0, len(ids))
	for _, id := range ids {
		ft, err := m.cache.Snapshot(id)
		if err != nil {
			// Deleted since IDs was taken.
			continue
		}
		units = append(units, ft)
	}
	return units
}

func (m *Manager) nodeStatusChanged(ctx context.Context, nodeID failover.NodeID, up bool) {
	if m.collector != nil {
		m.collector.SetUpNodes(len(m.nodes.UpNodes()))
	}
	m.coordinator.NodeStatusChanged(ctx, nodeID, up)
}

func (m *Manager) info(ctx context.Context, msg string, args ...interface{}) {
	if m.config.logger != nil {
		m.config.logger.Info(ctx, msg, args...)
	}
}
