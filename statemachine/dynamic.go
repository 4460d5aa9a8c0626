package statemachine

import (
	failover "github.com/getpup/failover-manager"
)

// DynamicTaskKind selects the variant of a DynamicTask.
type DynamicTaskKind int

const (
	// DynamicMovement applies a load-balancer movement.
	DynamicMovement DynamicTaskKind = iota

	// DynamicAutoScaling changes the target replica set size.
	DynamicAutoScaling
)

func (k DynamicTaskKind) String() string {
	switch k {
	case DynamicMovement:
		return "Movement"
	case DynamicAutoScaling:
		return "AutoScaling"
	default:
		return "Unknown"
	}
}

// DynamicTask is an externally decided change applied to a unit before the static tasks.
type DynamicTask struct {
	Kind DynamicTaskKind

	// Movement is set for DynamicMovement.
	Movement failover.Movement

	// TargetReplicaSetSize is set for DynamicAutoScaling.
	TargetReplicaSetSize int
}

// NewMovementTask creates a dynamic task applying m.
func NewMovementTask(m failover.Movement) *DynamicTask {
	return &DynamicTask{Kind: DynamicMovement, Movement: m}
}

// NewAutoScalingTask creates a dynamic task setting the target replica set size.
func NewAutoScalingTask(targetReplicaSetSize int) *DynamicTask {
	return &DynamicTask{Kind: DynamicAutoScaling, TargetReplicaSetSize: targetReplicaSetSize}
}

func (p *Pipeline) runDynamic(tc *taskContext, task *DynamicTask) {
	if tc.ft.IsToBeDeleted {
		tc.debug("ignoring dynamic task for unit being deleted", "task", task.Kind)
		return
	}

	switch task.Kind {
	case DynamicMovement:
		p.applyMovement(tc, task.Movement)
	case DynamicAutoScaling:
		p.applyAutoScaling(tc, task.TargetReplicaSetSize)
	}
}

// applyMovement translates a movement into ToBePromoted and ToBeDropped flags and new
// replicas, which the static tasks then act upon.
func (p *Pipeline) applyMovement(tc *taskContext, m failover.Movement) {
	ft := tc.ft

	if !ft.IsStateful && m.Type != failover.MovementMoveSecondary {
		tc.debug("ignoring movement for stateless unit", "movement", m.Type, "decisionID", m.DecisionID)
		return
	}

	switch m.Type {
	case failover.MovementSwapPrimarySecondary, failover.MovementPromoteSecondary:
		if m.Type == failover.MovementSwapPrimarySecondary {
			if primary := ft.Primary(); primary == nil || primary.NodeID != m.SourceNode {
				tc.debug("ignoring swap, source is not primary", "source", m.SourceNode, "decisionID", m.DecisionID)
				return
			}
		}
		p.promote(tc, m)

	case failover.MovementMovePrimary:
		primary := ft.Primary()
		if primary == nil || primary.NodeID != m.SourceNode || !primary.IsUp {
			tc.debug("ignoring primary move, source is not an up primary", "source", m.SourceNode, "decisionID", m.DecisionID)
			return
		}
		if ft.Replica(m.TargetNode) != nil {
			p.promote(tc, m)
			return
		}
		if pending := ft.ToBePromotedReplica(); pending != nil {
			r := ft.CreateReplica(m.TargetNode, failover.RoleIdle, tc.now)
			tc.info("promotion pending, placing replica on target instead",
				"replica", r.ID(),
				"pending", pending.NodeID,
				"decisionID", m.DecisionID)
			return
		}
		primary.ToBeDropped = true
		tc.touch(primary)
		r := ft.CreateReplica(m.TargetNode, failover.RoleIdle, tc.now)
		r.ToBePromoted = true
		tc.info("moving primary", "from", m.SourceNode, "to", r.ID(), "decisionID", m.DecisionID)

	case failover.MovementMoveSecondary:
		source := ft.Replica(m.SourceNode)
		if source == nil || source.IsDropped() || source.IsPrimary() || source.ToBePromoted {
			tc.debug("ignoring move, no movable replica on source", "source", m.SourceNode, "decisionID", m.DecisionID)
			return
		}
		if ft.Replica(m.TargetNode) != nil {
			tc.debug("ignoring move, target already hosts a replica", "target", m.TargetNode, "decisionID", m.DecisionID)
			return
		}
		source.ToBeDropped = true
		tc.touch(source)
		role := failover.RoleIdle
		if !ft.IsStateful {
			role = failover.RoleNone
		}
		r := ft.CreateReplica(m.TargetNode, role, tc.now)
		tc.info("moving replica", "from", m.SourceNode, "to", r.ID(), "decisionID", m.DecisionID)

	default:
		tc.debug("ignoring unknown movement", "movement", m.Type, "decisionID", m.DecisionID)
	}
}

// promote marks the secondary on the movement target ToBePromoted unless another
// promotion is pending.
func (p *Pipeline) promote(tc *taskContext, m failover.Movement) {
	ft := tc.ft

	target := ft.Replica(m.TargetNode)
	if target == nil || target.CurrentConfigurationRole != failover.RoleSecondary || !target.IsUp || !target.IsReady() {
		tc.debug("ignoring promotion, target is not an up ready secondary", "target", m.TargetNode, "decisionID", m.DecisionID)
		return
	}
	if pending := ft.ToBePromotedReplica(); pending != nil {
		if pending.NodeID != target.NodeID {
			tc.info("promotion pending, movement deferred", "pending", pending.NodeID, "target", m.TargetNode, "decisionID", m.DecisionID)
		}
		return
	}

	target.ToBePromoted = true
	tc.touch(target)
	tc.info("secondary marked to be promoted", "replica", target.ID(), "movement", m.Type, "decisionID", m.DecisionID)
}

// applyAutoScaling clamps the requested size to [min, max) and installs it as the target.
func (p *Pipeline) applyAutoScaling(tc *taskContext, target int) {
	ft := tc.ft

	lower := p.config.AutoScaleMinInstances
	if ft.IsStateful && lower < ft.MinReplicaSetSize {
		lower = ft.MinReplicaSetSize
	}
	if upper := p.config.AutoScaleMaxInstances; upper > 0 && target >= upper {
		target = upper - 1
	}
	if target < lower {
		target = lower
	}

	if target == ft.TargetReplicaSetSize {
		return
	}
	tc.info("target replica set size changed", "from", ft.TargetReplicaSetSize, "to", target)
	ft.TargetReplicaSetSize = target
	tc.dirty()
}
