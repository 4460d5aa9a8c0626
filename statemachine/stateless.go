package statemachine

import (
	failover "github.com/getpup/failover-manager"
)

// checkStateless keeps a stateless unit at its target instance count.
func (p *Pipeline) checkStateless(tc *taskContext) {
	ft := tc.ft
	if ft.IsToBeDeleted {
		return
	}

	p.sendPendingBuilds(tc, failover.ActionAddInstance, nil)

	diff := ft.ReplicaDifference()
	switch {
	case diff > 0:
		for _, node := range p.selectNodes(ft, diff) {
			r := ft.CreateReplica(node, failover.RoleNone, tc.now)
			r.IsCreating = true
			tc.emitFor(failover.ActionAddInstance, r.NodeID, r)
			tc.info("adding instance", "replica", r.ID())
		}
	case diff < 0:
		p.dropReplicas(tc, -diff)
	}
}
