package statemachine

import (
	failover "github.com/getpup/failover-manager"
)

// updateState reconciles replica liveness with node status, drops down replicas that
// carry no committed state and expires StandBy replicas.
func (p *Pipeline) updateState(tc *taskContext) {
	ft := tc.ft

	if ft.IsOrphaned && !ft.IsToBeDeleted {
		ft.IsToBeDeleted = true
		tc.dirty()
		tc.info("orphaned failover unit marked for deletion", "serviceName", ft.ServiceName)
	}

	if p.config.Nodes != nil {
		for i := range ft.Replicas {
			r := &ft.Replicas[i]
			if up := p.config.Nodes.IsNodeUp(r.NodeID); up != r.IsUp {
				r.IsUp = up
				tc.touch(r)
				tc.debug("replica liveness changed", "replica", r.ID(), "isUp", up)
			}
		}
	}

	// StandBy replicas are the data-loss survivors; they do not expire without quorum.
	keepStandBy := ft.IsQuorumLost() || !ft.QuorumLostAt.IsZero()

	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if r.IsDropped() {
			continue
		}

		if !r.IsUp && !holdsCommittedState(ft, r) {
			markDropped(r)
			tc.touch(r)
			tc.info("dropped down replica", "replica", r.ID(), "role", r.CurrentConfigurationRole)
			continue
		}

		if keepStandBy || !r.IsStandBy() || r.IsInCurrentConfiguration() {
			continue
		}
		if tc.now.Sub(r.LastUpdated) < p.config.StandByReplicaKeepDuration {
			continue
		}
		if !r.IsUp {
			markDropped(r)
			tc.touch(r)
			tc.info("dropped expired standby replica", "replica", r.ID())
		} else if !r.ToBeDropped {
			r.ToBeDropped = true
			tc.touch(r)
			tc.info("expired standby replica marked to be dropped", "replica", r.ID())
		}
	}
}

// holdsCommittedState reports whether a down replica must be kept: it is part of a
// configuration or persisted as StandBy. Stateless instances never hold state.
func holdsCommittedState(ft *failover.FailoverUnit, r *failover.Replica) bool {
	if !ft.IsStateful {
		return false
	}
	return r.IsInCurrentConfiguration() || r.IsInPreviousConfiguration() || r.IsStandBy()
}

func markDropped(r *failover.Replica) {
	r.State = failover.ReplicaStateDropped
	r.IsCreating = false
	r.ToBePromoted = false
	r.PendingRemove = false
}
