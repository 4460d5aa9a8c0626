package statemachine

import (
	"sort"

	failover "github.com/getpup/failover-manager"
)

// NodeStatus reports whether a node is up.
type NodeStatus interface {
	IsNodeUp(nodeID failover.NodeID) bool
}

// NodeLister lists the nodes currently up.
type NodeLister interface {
	UpNodes() []failover.NodeID
}

// Policy makes the placement decisions the pipeline delegates.
type Policy interface {
	// SelectNodes returns up to count nodes on which new replicas of ft may be placed.
	SelectNodes(ft *failover.FailoverUnit, count int) []failover.NodeID

	// SelectReplicasToDrop returns up to count replicas from candidates to mark ToBeDropped.
	SelectReplicasToDrop(ft *failover.FailoverUnit, candidates []*failover.Replica, count int) []*failover.Replica
}

// DefaultPolicy places replicas on up nodes in node order and drops replicas outside
// the configuration before configuration members, then in node order.
type DefaultPolicy struct {
	Nodes NodeLister
}

// SelectNodes returns the first count up nodes, in ascending order, not hosting a replica of ft.
func (p DefaultPolicy) SelectNodes(ft *failover.FailoverUnit, count int) []failover.NodeID {
	if p.Nodes == nil || count <= 0 {
		return nil
	}

	nodes := p.Nodes.UpNodes()
	sorted := make([]failover.NodeID, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var selected []failover.NodeID
	for _, node := range sorted {
		if ft.Replica(node) != nil {
			continue
		}
		selected = append(selected, node)
		if len(selected) == count {
			break
		}
	}
	return selected
}

// SelectReplicasToDrop prefers replicas outside the current configuration, then lower node IDs.
func (p DefaultPolicy) SelectReplicasToDrop(_ *failover.FailoverUnit, candidates []*failover.Replica, count int) []*failover.Replica {
	if count <= 0 {
		return nil
	}

	sorted := make([]*failover.Replica, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsInCurrentConfiguration() != b.IsInCurrentConfiguration() {
			return !a.IsInCurrentConfiguration()
		}
		return a.NodeID < b.NodeID
	})

	if count < len(sorted) {
		sorted = sorted[:count]
	}
	return sorted
}
