package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/pupsourcing/es"
)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// NodeDownTimeout is how long a node may stay silent before it is considered down (default: 30s).
	NodeDownTimeout time.Duration

	// CheckInterval is how often the monitor looks for silent nodes (default: 5s).
	CheckInterval time.Duration

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// OnNodeStatusChange is called outside the manager lock whenever a node goes up or down (optional).
	OnNodeStatusChange func(ctx context.Context, nodeID failover.NodeID, up bool)

	// Logger is for observability (optional).
	Logger es.Logger
}

// NodeInfo is the liveness of one known node.
type NodeInfo struct {
	NodeID        failover.NodeID
	IsUp          bool
	LastHeartbeat time.Time
}

// Manager tracks which replica hosts are alive from their heartbeats.
// It implements statemachine.NodeStatus and statemachine.NodeLister.
type Manager struct {
	config Config

	mu    sync.RWMutex
	nodes map[failover.NodeID]*NodeInfo
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values for timeouts and intervals if not set.
func New(cfg Config) *Manager {
	if cfg.NodeDownTimeout == 0 {
		cfg.NodeDownTimeout = 30 * time.Second
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Manager{
		config: cfg,
		nodes:  make(map[failover.NodeID]*NodeInfo),
	}
}

// Heartbeat records that the node is alive. A new or down node comes up.
func (m *Manager) Heartbeat(ctx context.Context, nodeID failover.NodeID) {
	m.mu.Lock()
	node, ok := m.nodes[nodeID]
	if !ok {
		node = &NodeInfo{NodeID: nodeID}
		m.nodes[nodeID] = node
	}
	changed := !node.IsUp
	node.IsUp = true
	node.LastHeartbeat = m.config.Clock()
	m.mu.Unlock()

	if m.config.Logger != nil {
		m.config.Logger.Debug(ctx, "heartbeat received", "nodeID", nodeID)
	}
	if changed {
		m.statusChanged(ctx, nodeID, true)
	}
}

// MarkNodeDown marks the node down immediately, for example when its host reports
// a shutdown. Unknown nodes are ignored.
func (m *Manager) MarkNodeDown(ctx context.Context, nodeID failover.NodeID) {
	m.mu.Lock()
	node, ok := m.nodes[nodeID]
	changed := ok && node.IsUp
	if changed {
		node.IsUp = false
	}
	m.mu.Unlock()

	if changed {
		m.statusChanged(ctx, nodeID, false)
	}
}

// IsNodeUp reports whether the node is known and up.
func (m *Manager) IsNodeUp(nodeID failover.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[nodeID]
	return ok && node.IsUp
}

// UpNodes returns the up nodes in ascending order.
func (m *Manager) UpNodes() []failover.NodeID {
	m.mu.RLock()
	nodes := make([]failover.NodeID, 0, len(m.nodes))
	for id, node := range m.nodes {
		if node.IsUp {
			nodes = append(nodes, id)
		}
	}
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// Nodes returns every known node in ascending order.
func (m *Manager) Nodes() []NodeInfo {
	m.mu.RLock()
	nodes := make([]NodeInfo, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, *node)
	}
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// CheckNodes marks every up node whose last heartbeat is older than
// NodeDownTimeout as down and returns those nodes.
func (m *Manager) CheckNodes(ctx context.Context) []failover.NodeID {
	now := m.config.Clock()

	m.mu.Lock()
	var expired []failover.NodeID
	for id, node := range m.nodes {
		if node.IsUp && now.Sub(node.LastHeartbeat) > m.config.NodeDownTimeout {
			node.IsUp = false
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, id := range expired {
		if m.config.Logger != nil {
			m.config.Logger.Info(ctx, "node heartbeat expired", "nodeID", id, "timeout", m.config.NodeDownTimeout)
		}
		m.statusChanged(ctx, id, false)
	}
	return expired
}

// StartMonitor runs CheckNodes at the configured interval until the context is cancelled.
func (m *Manager) StartMonitor(ctx context.Context) error {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CheckNodes(ctx)
		}
	}
}

func (m *Manager) statusChanged(ctx context.Context, nodeID failover.NodeID, up bool) {
	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "node status changed", "nodeID", nodeID, "up", up)
	}
	if m.config.OnNodeStatusChange != nil {
		m.config.OnNodeStatusChange(ctx, nodeID, up)
	}
}
