package failovermanager

import (
	"database/sql"
	"fmt"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/executor"
	"github.com/getpup/failover-manager/statemachine"
	"github.com/getpup/failover-manager/store"
	"github.com/getpup/failover-manager/store/postgres"
	"github.com/getpup/pupsourcing/es"
)

// Re-export core types from root package
type (
	// FailoverUnit is the replicated partition managed by the failover manager.
	FailoverUnit = failover.FailoverUnit

	// NodeID identifies a node hosting replicas.
	NodeID = failover.NodeID

	// Movement is an externally decided placement change.
	Movement = failover.Movement

	// Action is an instruction produced by a pipeline pass.
	Action = failover.Action
)

// Option configures a Manager.
type Option func(*config)

// config holds the internal configuration for creating a Manager.
type config struct {
	db                           *sql.DB
	store                        store.FailoverUnitStore
	transport                    executor.Transport
	dispatcher                   executor.Dispatcher
	healthReporter               executor.HealthReporter
	policy                       statemachine.Policy
	name                         string
	workers                      int
	scanInterval                 time.Duration
	dispatchRetryDelay           time.Duration
	nodeDownTimeout              time.Duration
	nodeCheckInterval            time.Duration
	standByReplicaKeepDuration   time.Duration
	quorumLossWaitDuration       time.Duration
	reconfigurationRetryInterval time.Duration
	autoScaleMinInstances        int
	autoScaleMaxInstances        int
	logger                       es.Logger
	metricsEnabled               *bool
	tableConfig                  postgres.TableConfig
	clock                        func() time.Time
}

// New creates a new Manager with the given options.
//
// Required options:
//   - WithDatabase or WithStore: where failover units are persisted
//   - WithTransport or WithDispatcher: how actions reach replica hosts
//
// Optional configuration (with defaults):
//   - WithName: manager name used as the metrics label (default: "default")
//   - WithWorkers: number of concurrent pipeline workers (default: 4)
//   - WithScanInterval: how often every unit is re-evaluated (default: 10s)
//   - WithDispatchRetryDelay: delay before undelivered actions are retried (default: 1s)
//   - WithNodeDownTimeout: heartbeat age after which a node is down (default: 30s)
//   - WithNodeCheckInterval: how often heartbeats are checked (default: 5s)
//   - WithStandByReplicaKeepDuration: how long StandBy replicas are kept (default: 1h)
//   - WithQuorumLossWaitDuration: wait before declaring data loss (default: 0)
//   - WithReconfigurationRetryInterval: DoReconfiguration resend interval (default: 30s)
//   - WithAutoScaleBounds: bounds applied to auto-scaling targets (default: [1, unbounded))
//   - WithPolicy: placement policy (default: statemachine.DefaultPolicy over live nodes)
//   - WithHealthReporter: receiver for quorum loss, data loss and service deletion (default: nil)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//   - WithTableName: custom table name for the PostgreSQL store (default: failover_units)
//
// Example:
//
//	mgr, err := failovermanager.New(
//	    failovermanager.WithDatabase(db),
//	    failovermanager.WithTransport(transport),
//	    failovermanager.WithTableName("custom_failover_units"),
//	)
//
// Returns an error if any required option is missing.
func New(opts ...Option) (*Manager, error) {
	// Apply defaults
	cfg := &config{
		name:        "default",
		tableConfig: postgres.DefaultTableConfig(),
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	// Validate required fields
	if cfg.db == nil && cfg.store == nil {
		return nil, fmt.Errorf("store is required: use WithDatabase or WithStore option")
	}
	if cfg.transport == nil && cfg.dispatcher == nil {
		return nil, fmt.Errorf("transport is required: use WithTransport or WithDispatcher option")
	}
	if cfg.autoScaleMaxInstances > 0 && cfg.autoScaleMinInstances >= cfg.autoScaleMaxInstances {
		return nil, fmt.Errorf("invalid auto-scale bounds [%d, %d)", cfg.autoScaleMinInstances, cfg.autoScaleMaxInstances)
	}

	// Create PostgreSQL store if not provided
	if cfg.store == nil {
		cfg.store = postgres.NewWithConfig(cfg.db, cfg.tableConfig)
	}

	return newManager(cfg), nil
}

// WithDatabase sets the PostgreSQL connection used to persist failover units.
func WithDatabase(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// WithStore sets a custom failover unit store.
// Use this if you want to provide your own implementation of store.FailoverUnitStore.
func WithStore(s store.FailoverUnitStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithTransport sets the transport that delivers actions to replica hosts.
func WithTransport(t executor.Transport) Option {
	return func(c *config) {
		c.transport = t
	}
}

// WithDispatcher replaces the default executor.
// Use this if you want to provide your own implementation of executor.Dispatcher.
func WithDispatcher(d executor.Dispatcher) Option {
	return func(c *config) {
		c.dispatcher = d
	}
}

// WithHealthReporter sets the receiver of QuorumLost, DataLoss and DeleteService actions.
func WithHealthReporter(r executor.HealthReporter) Option {
	return func(c *config) {
		c.healthReporter = r
	}
}

// WithPolicy sets the placement policy.
func WithPolicy(p statemachine.Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithName sets the manager name used to label metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithWorkers sets the number of concurrent pipeline workers.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithScanInterval sets how often every failover unit is re-evaluated.
func WithScanInterval(interval time.Duration) Option {
	return func(c *config) {
		c.scanInterval = interval
	}
}

// WithDispatchRetryDelay sets how long undelivered actions wait before they are retried.
func WithDispatchRetryDelay(delay time.Duration) Option {
	return func(c *config) {
		c.dispatchRetryDelay = delay
	}
}

// WithNodeDownTimeout sets the heartbeat age after which a node is considered down.
func WithNodeDownTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.nodeDownTimeout = timeout
	}
}

// WithNodeCheckInterval sets how often node heartbeats are checked.
func WithNodeCheckInterval(interval time.Duration) Option {
	return func(c *config) {
		c.nodeCheckInterval = interval
	}
}

// WithStandByReplicaKeepDuration sets how long a StandBy replica is kept before it is dropped.
func WithStandByReplicaKeepDuration(d time.Duration) Option {
	return func(c *config) {
		c.standByReplicaKeepDuration = d
	}
}

// WithQuorumLossWaitDuration sets how long to wait after quorum loss before declaring data loss.
func WithQuorumLossWaitDuration(d time.Duration) Option {
	return func(c *config) {
		c.quorumLossWaitDuration = d
	}
}

// WithReconfigurationRetryInterval sets how long to wait for a DoReconfiguration reply before resending.
func WithReconfigurationRetryInterval(d time.Duration) Option {
	return func(c *config) {
		c.reconfigurationRetryInterval = d
	}
}

// WithAutoScaleBounds sets the bounds applied to auto-scaling targets.
// The maximum is exclusive; zero means unbounded.
func WithAutoScaleBounds(minInstances, maxInstances int) Option {
	return func(c *config) {
		c.autoScaleMinInstances = minInstances
		c.autoScaleMaxInstances = maxInstances
	}
}

// WithLogger sets the logger for observability.
func WithLogger(logger es.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics collection.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *config) {
		c.metricsEnabled = &enabled
	}
}

// WithTableName sets a custom table name for the PostgreSQL store.
func WithTableName(table string) Option {
	return func(c *config) {
		c.tableConfig = postgres.TableConfig{FailoverUnitsTable: table}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// RunMigrations creates the table the PostgreSQL store needs.
//
// This should typically be run once during application deployment or startup.
//
// To run migrations with a custom table name, use RunMigrationsWithTableConfig.
func RunMigrations(db *sql.DB) error {
	return RunMigrationsWithTableConfig(db, postgres.DefaultTableConfig())
}

// RunMigrationsWithTableConfig executes database migrations with a custom table name.
// Use this if you specified a custom table name via the WithTableName option.
func RunMigrationsWithTableConfig(db *sql.DB, config postgres.TableConfig) error {
	_, err := db.Exec(postgres.MigrationUp(config))
	if err != nil {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}

	return nil
}
