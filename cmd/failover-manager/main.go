// Command failover-manager runs the failover manager against simulated replica hosts.
//
// Every node in -nodes heartbeats until it is taken down with -fail-node; replica
// hosts answer each action in-process. State is kept in PostgreSQL when
// -database-url (or DATABASE_URL) is set and in memory otherwise.
//
// Usage:
//
//	go run github.com/getpup/failover-manager/cmd/failover-manager -nodes n1,n2,n3,n4 -services 2
//	go run github.com/getpup/failover-manager/cmd/failover-manager -fail-node n1 -fail-after 10s
//	go run github.com/getpup/failover-manager/cmd/failover-manager -database-url postgres://localhost/failover -migrate
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/executor"
	"github.com/getpup/failover-manager/metrics"
	"github.com/getpup/failover-manager/pkg/failovermanager"
	"github.com/getpup/failover-manager/store/memory"
	"github.com/getpup/failover-manager/store/postgres"
	"github.com/getpup/pupsourcing/es"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

type options struct {
	databaseURL       string
	migrate           bool
	table             string
	nodes             string
	services          int
	stateful          bool
	replicas          int
	minReplicas       int
	workers           int
	heartbeatInterval time.Duration
	nodeDownTimeout   time.Duration
	failNode          string
	failAfter         time.Duration
	statusInterval    time.Duration
	replyDelay        time.Duration
	metricsAddr       string
	logLevel          string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (default: in-memory store)")
	flag.BoolVar(&opts.migrate, "migrate", false, "Create the failover units table before starting")
	flag.StringVar(&opts.table, "table", "failover_units", "Failover units table name")
	flag.StringVar(&opts.nodes, "nodes", "node-1,node-2,node-3,node-4", "Comma-separated simulated node IDs")
	flag.IntVar(&opts.services, "services", 1, "Number of failover units to create")
	flag.BoolVar(&opts.stateful, "stateful", true, "Create stateful units")
	flag.IntVar(&opts.replicas, "replicas", 3, "Target replica set size")
	flag.IntVar(&opts.minReplicas, "min-replicas", 2, "Minimum replica set size")
	flag.IntVar(&opts.workers, "workers", 4, "Concurrent pipeline workers")
	flag.DurationVar(&opts.heartbeatInterval, "heartbeat-interval", time.Second, "Simulated node heartbeat interval")
	flag.DurationVar(&opts.nodeDownTimeout, "node-down-timeout", 5*time.Second, "Heartbeat age after which a node is down")
	flag.StringVar(&opts.failNode, "fail-node", "", "Node that stops heartbeating and answering after -fail-after")
	flag.DurationVar(&opts.failAfter, "fail-after", 10*time.Second, "Delay before -fail-node fails")
	flag.DurationVar(&opts.statusInterval, "status-interval", 5*time.Second, "Interval between status reports")
	flag.DurationVar(&opts.replyDelay, "reply-delay", 50*time.Millisecond, "Simulated replica host reply latency")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Metrics and health listen address (empty disables)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger es.Logger) error {
	nodes := parseNodes(opts.nodes)
	if len(nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	sim := newSimulator(nodes)
	hosts := &executor.Loopback{
		Reachable:      sim.isAlive,
		Delay:          opts.replyDelay,
		SequenceNumber: 1,
	}

	mgrOpts := []failovermanager.Option{
		failovermanager.WithTransport(hosts),
		failovermanager.WithHealthReporter(healthLogger{logger: logger}),
		failovermanager.WithLogger(logger),
		failovermanager.WithWorkers(opts.workers),
		failovermanager.WithNodeDownTimeout(opts.nodeDownTimeout),
		failovermanager.WithNodeCheckInterval(opts.nodeDownTimeout / 5),
		failovermanager.WithTableName(opts.table),
	}

	if opts.databaseURL != "" {
		db, err := sql.Open("postgres", opts.databaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if opts.migrate {
			if err := failovermanager.RunMigrationsWithTableConfig(db, postgres.TableConfig{FailoverUnitsTable: opts.table}); err != nil {
				return err
			}
		}
		mgrOpts = append(mgrOpts, failovermanager.WithDatabase(db))
	} else {
		mgrOpts = append(mgrOpts, failovermanager.WithStore(memory.New()))
	}

	mgr, err := failovermanager.New(mgrOpts...)
	if err != nil {
		return err
	}
	hosts.Deliver = mgr.HandleMessage

	sim.heartbeat(ctx, mgr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(ctx)
	})
	g.Go(func() error {
		return sim.run(ctx, mgr, opts)
	})
	g.Go(func() error {
		return reportStatus(ctx, mgr, logger, opts.statusInterval)
	})
	if opts.metricsAddr != "" {
		server := metrics.NewServer(opts.metricsAddr)
		server.HandleHealth(mgr.Health)
		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	// Create units once Run has loaded the store
	g.Go(func() error {
		for mgr.Health() != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
		}
		if len(mgr.FailoverUnits()) > 0 {
			return nil
		}
		for i := 0; i < opts.services; i++ {
			if _, err := mgr.CreateFailoverUnit(ctx, failovermanager.ServiceDescription{
				ServiceName:          fmt.Sprintf("service-%d", i+1),
				IsStateful:           opts.stateful,
				TargetReplicaSetSize: opts.replicas,
				MinReplicaSetSize:    opts.minReplicas,
			}); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseNodes(s string) []failover.NodeID {
	var nodes []failover.NodeID
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			nodes = append(nodes, failover.NodeID(part))
		}
	}
	return nodes
}

// simulator plays the replica hosts: live nodes heartbeat and answer actions.
type simulator struct {
	mu    sync.RWMutex
	nodes []failover.NodeID
	alive map[failover.NodeID]bool
}

func newSimulator(nodes []failover.NodeID) *simulator {
	alive := make(map[failover.NodeID]bool, len(nodes))
	for _, n := range nodes {
		alive[n] = true
	}
	return &simulator{nodes: nodes, alive: alive}
}

func (s *simulator) isAlive(nodeID failover.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive[nodeID]
}

func (s *simulator) fail(nodeID failover.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[nodeID] = false
}

func (s *simulator) heartbeat(ctx context.Context, mgr *failovermanager.Manager) {
	for _, n := range s.nodes {
		if s.isAlive(n) {
			mgr.Heartbeat(ctx, n)
		}
	}
}

func (s *simulator) run(ctx context.Context, mgr *failovermanager.Manager, opts options) error {
	ticker := time.NewTicker(opts.heartbeatInterval)
	defer ticker.Stop()

	var failTimer <-chan time.Time
	if opts.failNode != "" {
		failTimer = time.After(opts.failAfter)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-failTimer:
			s.fail(failover.NodeID(opts.failNode))
			failTimer = nil
		case <-ticker.C:
			s.heartbeat(ctx, mgr)
		}
	}
}

func reportStatus(ctx context.Context, mgr *failovermanager.Manager, logger es.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, ft := range mgr.FailoverUnits() {
				logger.Info(ctx, "failover unit status", "failoverUnitID", ft.ID, "serviceName", ft.ServiceName,
					"replicas", describeReplicas(ft), "epoch", ft.CurrentConfigurationEpoch,
					"reconfiguring", ft.IsReconfiguring())
			}
		}
	}
}

func describeReplicas(ft *failover.FailoverUnit) string {
	parts := make([]string, 0, len(ft.Replicas))
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		parts = append(parts, fmt.Sprintf("%s:%s/%s", r.NodeID, r.CurrentConfigurationRole, r.State))
	}
	return strings.Join(parts, ",")
}
