package statemachine

import (
	"sort"
	"time"

	failover "github.com/getpup/failover-manager"
)

// reconfigure drives a stateful unit between configurations: failover when the
// primary is down, swaps for pending promotions, membership changes, and the
// quorum-loss and data-loss paths.
func (p *Pipeline) reconfigure(tc *taskContext) {
	ft := tc.ft
	if ft.IsToBeDeleted {
		return
	}
	// The first primary has no previous configuration; placement owns it until it is built.
	if ft.IsReconfiguring() && len(ft.PreviousConfiguration()) == 0 {
		return
	}
	if len(ft.CurrentConfiguration()) == 0 {
		return
	}

	if ft.IsQuorumLost() {
		p.handleQuorumLoss(tc)
		return
	}
	if !ft.QuorumLostAt.IsZero() {
		ft.QuorumLostAt = time.Time{}
		tc.dirty()
		tc.info("quorum restored", "upReplicas", failover.UpCount(ft.CurrentConfiguration()))
	}

	if ft.IsReconfiguring() {
		p.continueReconfiguration(tc)
		return
	}

	primary := ft.Primary()
	if primary == nil || !primary.IsUp {
		p.electPrimary(tc)
		return
	}
	if primary.ToBeDropped || ft.ToBePromotedReplica() != nil {
		if p.swap(tc, primary) {
			return
		}
	}
	p.changeConfiguration(tc, primary)
}

// continueReconfiguration watches an in-flight configuration change. The previous
// epoch and roles stay at the last committed configuration while it is replanned.
func (p *Pipeline) continueReconfiguration(tc *taskContext) {
	ft := tc.ft
	primary := ft.Primary()

	if primary == nil || !primary.IsUp {
		tc.info("incoming primary down during reconfiguration, replanning",
			"epoch", ft.CurrentConfigurationEpoch)
		p.electPrimary(tc)
		return
	}
	if outgoing := outgoingPrimary(ft); outgoing != nil && outgoing.CurrentConfigurationRole == failover.RoleSecondary && !outgoing.IsUp {
		tc.info("outgoing primary down during swap, replanning",
			"outgoing", outgoing.ID(),
			"epoch", ft.CurrentConfigurationEpoch)
		p.electPrimary(tc)
		return
	}

	if tc.now.Sub(ft.ReconfigurationStartedAt) >= p.config.ReconfigurationRetryInterval {
		ft.ReconfigurationStartedAt = tc.now
		tc.dirty()
		tc.emit(reconfigurationAction(ft, primary))
		tc.debug("resending reconfiguration", "primary", primary.ID(), "epoch", ft.CurrentConfigurationEpoch)
	}
}

// electPrimary elects a new primary among the up, ready configuration members.
func (p *Pipeline) electPrimary(tc *taskContext) {
	ft := tc.ft
	candidate := selectPrimaryCandidate(ft)
	if candidate == nil {
		tc.debug("no eligible primary candidate")
		return
	}

	previous := ft.Primary()
	p.doReconfiguration(tc, candidate, withDownMembers(ft, candidate, upSecondaries(ft, candidate)), false)
	if previous != nil {
		tc.info("failover started", "from", previous.ID(), "to", candidate.ID(), "epoch", ft.CurrentConfigurationEpoch)
	} else {
		tc.info("failover started", "to", candidate.ID(), "epoch", ft.CurrentConfigurationEpoch)
	}
}

// swap hands the primary role over while the primary is up. It returns false when
// no swap could be started.
func (p *Pipeline) swap(tc *taskContext, primary *failover.Replica) bool {
	ft := tc.ft

	candidate := ft.ToBePromotedReplica()
	if candidate != nil {
		if !candidate.IsUp {
			candidate.ToBePromoted = false
			tc.touch(candidate)
			tc.info("promotion candidate down, promotion cancelled", "replica", candidate.ID())
			return false
		}
		if !isEligiblePrimary(candidate) || candidate.CurrentConfigurationRole != failover.RoleSecondary {
			tc.debug("waiting for promotion candidate", "replica", candidate.ID(), "state", candidate.State)
			return false
		}
	} else {
		candidate = bestSecondary(ft)
		if candidate == nil {
			tc.debug("no secondary to take over from primary marked to be dropped", "primary", primary.ID())
			return false
		}
	}

	p.doReconfiguration(tc, candidate, withDownMembers(ft, candidate, upSecondaries(ft, candidate)), false)
	tc.info("swapping primary", "from", primary.ID(), "to", candidate.ID(), "epoch", ft.CurrentConfigurationEpoch)
	return true
}

// changeConfiguration adds built Idle replicas to the configuration and removes down
// members while at least MinReplicaSetSize members remain. Members marked ToBeDropped
// are removed once no replacement is still being built, keeping at least
// MinReplicaSetSize up members.
func (p *Pipeline) changeConfiguration(tc *taskContext, primary *failover.Replica) {
	ft := tc.ft
	if !primary.IsReady() {
		return
	}

	var (
		members  []*failover.Replica
		dropping []*failover.Replica
		changed  bool
		building bool
		down     int
	)
	upMembers := 1
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r == primary {
			continue
		}
		switch {
		case r.CurrentConfigurationRole == failover.RoleIdle && r.IsInBuild() && r.IsUp && !r.ToBeDropped:
			building = true
		case r.IsInCurrentConfiguration():
			if !r.IsUp || r.IsDropped() {
				down++
				continue
			}
			if r.ToBeDropped {
				dropping = append(dropping, r)
				continue
			}
			members = append(members, r)
			upMembers++
		case r.CurrentConfigurationRole == failover.RoleIdle && r.IsReady() && r.IsUp && !r.ToBeDropped:
			members = append(members, r)
			upMembers++
			changed = true
		}
	}
	for _, r := range dropping {
		if !building && upMembers >= ft.MinReplicaSetSize {
			changed = true
			continue
		}
		members = append(members, r)
		upMembers++
	}
	kept := len(members)
	members = withDownMembers(ft, primary, members)
	if down > len(members)-kept {
		changed = true
	}

	if !changed {
		return
	}
	p.doReconfiguration(tc, primary, members, false)
	tc.info("configuration change started",
		"primary", primary.ID(),
		"members", len(members)+1,
		"epoch", ft.CurrentConfigurationEpoch)
}

// handleQuorumLoss reports quorum loss once per episode and, once every configuration
// member is gone and the wait elapsed, rebuilds from the best surviving replica.
func (p *Pipeline) handleQuorumLoss(tc *taskContext) {
	ft := tc.ft

	if ft.QuorumLostAt.IsZero() {
		ft.QuorumLostAt = tc.now
		tc.dirty()
		tc.emit(failover.Action{Kind: failover.ActionQuorumLost})
		tc.error("quorum lost",
			"upReplicas", failover.UpCount(ft.CurrentConfiguration()),
			"quorumSize", ft.QuorumSize())
	}

	if configurationAlive(ft) {
		return
	}
	if tc.now.Sub(ft.QuorumLostAt) < p.config.QuorumLossWaitDuration {
		return
	}

	survivor := selectDataLossSurvivor(ft)
	if survivor == nil {
		tc.debug("no surviving replica to recover from")
		return
	}

	tc.emit(failover.Action{Kind: failover.ActionDataLoss, Replica: survivor.ID()})
	p.doReconfiguration(tc, survivor, nil, true)
	ft.QuorumLostAt = time.Time{}
	tc.error("data loss, rebuilding from surviving replica",
		"replica", survivor.ID(),
		"sequenceNumber", survivor.LastSequenceNumber,
		"epoch", ft.CurrentConfigurationEpoch)
}

// doReconfiguration installs primary and secondaries as the new current configuration,
// bumps the epoch and emits DoReconfiguration to the incoming primary.
func (p *Pipeline) doReconfiguration(tc *taskContext, primary *failover.Replica, secondaries []*failover.Replica, dataLoss bool) {
	ft := tc.ft
	restart := ft.IsReconfiguring()

	keep := make(map[failover.NodeID]struct{}, len(secondaries))
	for _, r := range secondaries {
		keep[r.NodeID] = struct{}{}
	}

	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if !restart {
			r.PreviousConfigurationRole = r.CurrentConfigurationRole
		}
		if _, ok := keep[r.NodeID]; ok {
			r.CurrentConfigurationRole = failover.RoleSecondary
			continue
		}
		if r.NodeID == primary.NodeID {
			r.CurrentConfigurationRole = failover.RolePrimary
			continue
		}
		if r.IsInCurrentConfiguration() {
			r.CurrentConfigurationRole = failover.RoleNone
		}
	}

	if !restart {
		ft.PreviousConfigurationEpoch = ft.CurrentConfigurationEpoch
	}
	if dataLoss {
		ft.CurrentConfigurationEpoch = ft.CurrentConfigurationEpoch.NextDataLoss()
	} else {
		ft.CurrentConfigurationEpoch = ft.CurrentConfigurationEpoch.Next()
	}
	ft.ReconfigurationStartedAt = tc.now
	tc.dirty()

	tc.emit(reconfigurationAction(ft, primary))
}

// reconfigurationAction builds the DoReconfiguration for the current role assignment.
func reconfigurationAction(ft *failover.FailoverUnit, primary *failover.Replica) failover.Action {
	roles := make([]failover.RoleAssignment, 0, len(ft.Replicas))
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.IsDropped() {
			continue
		}
		roles = append(roles, failover.RoleAssignment{
			Replica:      r.ID(),
			PreviousRole: r.PreviousConfigurationRole,
			CurrentRole:  r.CurrentConfigurationRole,
			State:        r.State,
		})
	}

	return failover.Action{
		Kind:          failover.ActionDoReconfiguration,
		NodeID:        primary.NodeID,
		Replica:       primary.ID(),
		PreviousEpoch: ft.PreviousConfigurationEpoch,
		CurrentEpoch:  ft.CurrentConfigurationEpoch,
		Roles:         roles,
	}
}

// isEligiblePrimary reports whether r may be elected primary without data loss.
func isEligiblePrimary(r *failover.Replica) bool {
	return r.IsUp && r.IsReady() && !r.ToBeDropped &&
		(r.IsInCurrentConfiguration() || r.IsInPreviousConfiguration())
}

// selectPrimaryCandidate prefers an eligible ToBePromoted replica, then the eligible
// replica with the highest sequence number, then the lowest node ID.
func selectPrimaryCandidate(ft *failover.FailoverUnit) *failover.Replica {
	if r := ft.ToBePromotedReplica(); r != nil && isEligiblePrimary(r) {
		return r
	}

	var best *failover.Replica
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if !isEligiblePrimary(r) {
			continue
		}
		if best == nil || moreAdvanced(r, best) {
			best = r
		}
	}
	return best
}

// bestSecondary is selectPrimaryCandidate restricted to current secondaries.
func bestSecondary(ft *failover.FailoverUnit) *failover.Replica {
	var best *failover.Replica
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.CurrentConfigurationRole != failover.RoleSecondary || !isEligiblePrimary(r) {
			continue
		}
		if best == nil || moreAdvanced(r, best) {
			best = r
		}
	}
	return best
}

// upSecondaries returns the up, ready current-configuration members other than primary.
func upSecondaries(ft *failover.FailoverUnit, primary *failover.Replica) []*failover.Replica {
	var secondaries []*failover.Replica
	for _, r := range ft.CurrentConfiguration() {
		if r.NodeID == primary.NodeID || !r.IsUp || !r.IsReady() {
			continue
		}
		secondaries = append(secondaries, r)
	}
	return secondaries
}

// withDownMembers keeps down members of the current configuration as secondaries,
// lowest node ID first, until the configuration led by primary has MinReplicaSetSize
// members.
func withDownMembers(ft *failover.FailoverUnit, primary *failover.Replica, secondaries []*failover.Replica) []*failover.Replica {
	var down []*failover.Replica
	for _, r := range ft.CurrentConfiguration() {
		if r.NodeID != primary.NodeID && !r.IsUp && !r.IsDropped() {
			down = append(down, r)
		}
	}
	sort.Slice(down, func(i, j int) bool { return down[i].NodeID < down[j].NodeID })

	for _, r := range down {
		if len(secondaries)+1 >= ft.MinReplicaSetSize {
			break
		}
		secondaries = append(secondaries, r)
	}
	return secondaries
}

// moreAdvanced orders candidates by sequence number, then by node ID ascending.
func moreAdvanced(r, than *failover.Replica) bool {
	if r.LastSequenceNumber != than.LastSequenceNumber {
		return r.LastSequenceNumber > than.LastSequenceNumber
	}
	return r.NodeID < than.NodeID
}

// outgoingPrimary returns the primary of the committed configuration when an
// in-flight change hands the role to another replica.
func outgoingPrimary(ft *failover.FailoverUnit) *failover.Replica {
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.PreviousConfigurationRole == failover.RolePrimary && r.CurrentConfigurationRole != failover.RolePrimary {
			return r
		}
	}
	return nil
}

// configurationAlive reports whether any member of the current or previous
// configuration is still up.
func configurationAlive(ft *failover.FailoverUnit) bool {
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.IsDropped() || !r.IsUp {
			continue
		}
		if r.IsInCurrentConfiguration() || r.IsInPreviousConfiguration() {
			return true
		}
	}
	return false
}

// selectDataLossSurvivor picks the up StandBy or Ready replica with the highest
// sequence number, then the lowest node ID. An up InBuild Idle replica is the last resort.
func selectDataLossSurvivor(ft *failover.FailoverUnit) *failover.Replica {
	var best, fallback *failover.Replica
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if !r.IsUp || r.ToBeDropped {
			continue
		}
		switch {
		case r.IsStandBy() || r.IsReady():
			if best == nil || moreAdvanced(r, best) {
				best = r
			}
		case r.IsInBuild() && r.CurrentConfigurationRole == failover.RoleIdle:
			if fallback == nil || r.NodeID < fallback.NodeID {
				fallback = r
			}
		}
	}
	if best != nil {
		return best
	}
	return fallback
}
