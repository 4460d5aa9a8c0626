package failover

import "github.com/cockroachdb/errors"

// Validate checks the invariants every pipeline pass must preserve.
// Violations are reported as assertion failures.
func (ft *FailoverUnit) Validate() error {
	if ft.MinReplicaSetSize > ft.TargetReplicaSetSize {
		return errors.AssertionFailedf("failover unit %s: min replica set size %d exceeds target %d",
			ft.ID, ft.MinReplicaSetSize, ft.TargetReplicaSetSize)
	}
	if ft.CurrentConfigurationEpoch.Less(ft.PreviousConfigurationEpoch) {
		return errors.AssertionFailedf("failover unit %s: current epoch %s precedes previous epoch %s",
			ft.ID, ft.CurrentConfigurationEpoch, ft.PreviousConfigurationEpoch)
	}

	seen := make(map[NodeID]struct{}, len(ft.Replicas))
	primaries, promoted := 0, 0
	for i := range ft.Replicas {
		r := &ft.Replicas[i]
		if _, dup := seen[r.NodeID]; dup {
			return errors.AssertionFailedf("failover unit %s: duplicate replica on node %s", ft.ID, r.NodeID)
		}
		seen[r.NodeID] = struct{}{}
		if r.IsPrimary() {
			primaries++
		}
		if r.ToBePromoted {
			promoted++
		}
	}
	if primaries > 1 {
		return errors.AssertionFailedf("failover unit %s: %d primaries in current configuration", ft.ID, primaries)
	}
	if promoted > 1 {
		return errors.AssertionFailedf("failover unit %s: %d replicas marked to be promoted", ft.ID, promoted)
	}
	return nil
}
