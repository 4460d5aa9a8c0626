package statemachine

import (
	failover "github.com/getpup/failover-manager"
)

// processPending removes replicas marked ToBeDropped once they have no role in any
// configuration, deletes dropped replicas and, for units marked for deletion, tears
// every replica down before emitting DeleteService.
func (p *Pipeline) processPending(tc *taskContext) {
	ft := tc.ft

	removeKind, deleteKind := failover.ActionRemoveReplica, failover.ActionDeleteReplica
	if !ft.IsStateful {
		removeKind, deleteKind = failover.ActionRemoveInstance, failover.ActionDeleteInstance
	}

	if ft.IsToBeDeleted {
		p.deleteService(tc, deleteKind)
		return
	}

	for i := 0; i < len(ft.Replicas); {
		r := &ft.Replicas[i]
		switch {
		case r.IsDropped() && (r.IsDeleted || !r.IsUp):
			tc.debug("removing dropped replica", "replica", r.ID())
			ft.RemoveReplica(r.NodeID)
			tc.dirty()
			continue
		case r.IsDropped():
			if !r.PendingRemove {
				r.PendingRemove = true
				tc.touch(r)
				tc.emitFor(deleteKind, r.NodeID, r)
				tc.debug("deleting dropped replica", "replica", r.ID())
			}
		case r.ToBeDropped && canRemove(ft, r):
			if !r.IsUp {
				markDropped(r)
				tc.touch(r)
				tc.debug("replica to be dropped is down", "replica", r.ID())
				continue
			}
			if !r.PendingRemove {
				r.PendingRemove = true
				tc.touch(r)
				tc.emitFor(removeKind, r.NodeID, r)
				tc.info("removing replica", "replica", r.ID())
			}
		}
		i++
	}
}

// canRemove reports whether a replica marked ToBeDropped has no remaining obligation.
// Nothing is removed from a stateful unit that has lost quorum.
func canRemove(ft *failover.FailoverUnit, r *failover.Replica) bool {
	if r.ToBePromoted {
		return false
	}
	if !ft.IsStateful {
		return true
	}
	if ft.IsQuorumLost() {
		return false
	}
	return !ft.IsReconfiguring() && !r.IsInCurrentConfiguration() && !r.IsInPreviousConfiguration()
}

// deleteService deletes every replica of a unit marked for deletion and, once none is
// left, emits DeleteService and marks the unit deleted.
func (p *Pipeline) deleteService(tc *taskContext, deleteKind failover.ActionKind) {
	ft := tc.ft

	for i := 0; i < len(ft.Replicas); {
		r := &ft.Replicas[i]
		if (r.IsDropped() && r.IsDeleted) || !r.IsUp {
			tc.debug("removing replica of deleted service", "replica", r.ID())
			ft.RemoveReplica(r.NodeID)
			tc.dirty()
			continue
		}
		if !r.PendingRemove {
			r.PendingRemove = true
			tc.touch(r)
			tc.emitFor(deleteKind, r.NodeID, r)
			tc.debug("deleting replica of deleted service", "replica", r.ID())
		}
		i++
	}

	if len(ft.Replicas) > 0 {
		return
	}

	ft.IsDeleted = true
	ft.PersistenceState = failover.PersistenceDelete
	ft.LastUpdated = tc.now
	tc.emit(failover.Action{Kind: failover.ActionDeleteService})
	tc.info("service deleted", "serviceName", ft.ServiceName)
}
