package statemachine

import (
	"sort"

	failover "github.com/getpup/failover-manager"
)

// place builds the first primary of a stateful unit and afterwards adds or trims
// replicas toward TargetReplicaSetSize. It never runs while a reconfiguration is in
// flight, while quorum is lost or while a promotion is pending.
func (p *Pipeline) place(tc *taskContext) {
	ft := tc.ft
	if ft.IsToBeDeleted {
		return
	}
	if p.buildFirstPrimary(tc) {
		return
	}
	if ft.IsReconfiguring() || ft.IsQuorumLost() {
		return
	}

	primary := ft.Primary()
	if primary == nil || !primary.IsUp || !primary.IsReady() {
		return
	}

	p.sendPendingBuilds(tc, failover.ActionAddReplica, primary)
	if ft.ToBePromotedReplica() != nil {
		return
	}

	diff := ft.ReplicaDifference()
	switch {
	case diff > 0:
		p.addReplicas(tc, diff, primary)
	case diff < 0:
		p.dropReplicas(tc, -diff)
	}
}

// buildFirstPrimary handles a unit that never had a committed configuration. It
// returns true while the first primary is being built.
func (p *Pipeline) buildFirstPrimary(tc *taskContext) bool {
	ft := tc.ft
	if len(ft.PreviousConfiguration()) > 0 {
		return false
	}

	primary := ft.Primary()
	if primary == nil {
		if len(ft.CurrentConfiguration()) > 0 || ft.TargetReplicaSetSize == 0 {
			return false
		}
		for i := range ft.Replicas {
			if ft.Replicas[i].IsReady() || ft.Replicas[i].IsStandBy() {
				return false
			}
		}

		nodes := p.selectNodes(ft, 1)
		if len(nodes) == 0 {
			tc.debug("no node available for primary")
			return true
		}
		r := ft.CreateReplica(nodes[0], failover.RolePrimary, tc.now)
		r.IsCreating = true
		ft.CurrentConfigurationEpoch = ft.CurrentConfigurationEpoch.Next()
		ft.ReconfigurationStartedAt = tc.now
		tc.dirty()
		tc.emitFor(failover.ActionAddPrimary, r.NodeID, r)
		tc.info("creating primary", "replica", r.ID(), "epoch", ft.CurrentConfigurationEpoch)
		return true
	}

	if !primary.IsInBuild() {
		return false
	}
	if !primary.IsUp {
		markDropped(primary)
		primary.CurrentConfigurationRole = failover.RoleNone
		tc.touch(primary)
		tc.info("primary lost while being built", "replica", primary.ID())
		return true
	}
	if !primary.IsCreating {
		primary.IsCreating = true
		tc.touch(primary)
		tc.emitFor(failover.ActionAddPrimary, primary.NodeID, primary)
		tc.debug("retrying primary creation", "replica", primary.ID())
	}
	return true
}

// sendPendingBuilds emits an add action for every up InBuild replica without an
// outstanding request. Stateful adds go to the primary, stateless adds to the host.
func (p *Pipeline) sendPendingBuilds(tc *taskContext, kind failover.ActionKind, primary *failover.Replica) {
	ft := tc.ft
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if !r.IsInBuild() || r.IsCreating || !r.IsUp || r.ToBeDropped || r.IsPrimary() {
			continue
		}
		r.IsCreating = true
		tc.touch(r)
		target := r.NodeID
		if primary != nil {
			target = primary.NodeID
		}
		tc.emitFor(kind, target, r)
		tc.debug("building replica", "replica", r.ID(), "action", kind)
	}
}

// addReplicas rebuilds up StandBy replicas first and places the rest on new nodes.
func (p *Pipeline) addReplicas(tc *taskContext, count int, primary *failover.Replica) {
	ft := tc.ft

	var standBys []*failover.Replica
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.IsStandBy() && r.IsUp && !r.ToBeDropped {
			standBys = append(standBys, r)
		}
	}
	sort.SliceStable(standBys, func(i, j int) bool {
		return standBys[i].LastSequenceNumber > standBys[j].LastSequenceNumber
	})
	for _, r := range standBys {
		if count == 0 {
			return
		}
		ft.Reincarnate(r, tc.now)
		r.State = failover.ReplicaStateInBuild
		r.CurrentConfigurationRole = failover.RoleIdle
		r.PreviousConfigurationRole = failover.RoleNone
		r.IsCreating = true
		tc.touch(r)
		tc.emitFor(failover.ActionAddReplica, primary.NodeID, r)
		tc.info("rebuilding standby replica", "replica", r.ID(), "sequenceNumber", r.LastSequenceNumber)
		count--
	}

	primaryNode := primary.NodeID
	for _, node := range p.selectNodes(ft, count) {
		r := ft.CreateReplica(node, failover.RoleIdle, tc.now)
		r.IsCreating = true
		tc.emitFor(failover.ActionAddReplica, primaryNode, r)
		tc.info("adding replica", "replica", r.ID())
	}
}

// dropReplicas marks up to count ready, non-primary replicas ToBeDropped.
func (p *Pipeline) dropReplicas(tc *taskContext, count int) {
	ft := tc.ft

	var candidates []*failover.Replica
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.IsPrimary() || !r.IsReady() || !r.IsUp || r.ToBeDropped || r.ToBePromoted {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return
	}

	selected := p.config.Policy.SelectReplicasToDrop(ft, candidates, count)
	if len(selected) > count {
		selected = selected[:count]
	}
	for _, r := range selected {
		r.ToBeDropped = true
		tc.touch(r)
		tc.info("replica marked to be dropped", "replica", r.ID(), "role", r.CurrentConfigurationRole)
	}
}

// selectNodes asks the policy for nodes and discards any already hosting a replica of ft.
func (p *Pipeline) selectNodes(ft *failover.FailoverUnit, count int) []failover.NodeID {
	if count <= 0 {
		return nil
	}

	var nodes []failover.NodeID
	seen := make(map[failover.NodeID]struct{})
	for _, node := range p.config.Policy.SelectNodes(ft, count) {
		if _, dup := seen[node]; dup || ft.Replica(node) != nil {
			continue
		}
		if p.config.Nodes != nil && !p.config.Nodes.IsNodeUp(node) {
			continue
		}
		seen[node] = struct{}{}
		nodes = append(nodes, node)
		if len(nodes) == count {
			break
		}
	}
	return nodes
}
