package statemachine

import (
	"testing"

	failover "github.com/getpup/failover-manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicTask_Constructors(t *testing.T) {
	m := failover.Movement{Type: failover.MovementMoveSecondary, SourceNode: "n1", TargetNode: "n2"}

	movement := NewMovementTask(m)
	assert.Equal(t, DynamicMovement, movement.Kind)
	assert.Equal(t, m, movement.Movement)

	scaling := NewAutoScalingTask(7)
	assert.Equal(t, DynamicAutoScaling, scaling.Kind)
	assert.Equal(t, 7, scaling.TargetReplicaSetSize)
	assert.Equal(t, "AutoScaling", scaling.Kind.String())
}

func TestAutoScaling_Clamps(t *testing.T) {
	tests := []struct {
		name      string
		stateful  bool
		min, max  int
		requested int
		expected  int
	}{
		{name: "within bounds", stateful: false, min: 1, max: 10, requested: 5, expected: 5},
		{name: "max is exclusive", stateful: false, min: 1, max: 10, requested: 10, expected: 9},
		{name: "below minimum", stateful: false, min: 2, max: 10, requested: 0, expected: 2},
		{name: "unbounded", stateful: false, min: 1, max: 0, requested: 50, expected: 50},
		{name: "stateful floor is min replica set size", stateful: true, min: 1, max: 0, requested: 1, expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWithConfig(Config{AutoScaleMinInstances: tt.min, AutoScaleMaxInstances: tt.max})
			var ft *failover.FailoverUnit
			if tt.stateful {
				ft = statefulUnit()
			} else {
				ft = statelessUnit(3)
			}

			f.run(t, ft, NewAutoScalingTask(tt.requested), nil)

			assert.Equal(t, tt.expected, ft.TargetReplicaSetSize)
		})
	}
}

func TestAutoScaling_UnchangedTargetIsNoop(t *testing.T) {
	f := newFixture("n1", "n2", "n3")
	ft := stableUnit()

	actions := f.run(t, ft, NewAutoScalingTask(3), nil)

	assert.Empty(t, actions)
	assert.Equal(t, failover.PersistenceNoChange, ft.PersistenceState)
}

func TestMovement_PendingPromotionDefersSecondPromotion(t *testing.T) {
	f := newFixture("n1", "n2", "n3", "n4")
	ft := stableUnit()
	ft.CurrentConfigurationEpoch = failover.Epoch{ConfigurationVersion: 4}
	ft.ReconfigurationStartedAt = testStart
	ft.Replica("n3").ToBePromoted = true

	f.run(t, ft, NewMovementTask(failover.Movement{
		Type:       failover.MovementPromoteSecondary,
		TargetNode: "n2",
	}), nil)

	assert.False(t, ft.Replica("n2").ToBePromoted)
	assert.True(t, ft.Replica("n3").ToBePromoted)
	assert.True(t, f.logger.hasMessage("info", "promotion pending, movement deferred"))
}

func TestMovement_MovePrimaryWithPendingPromotionPlacesReplica(t *testing.T) {
	f := newFixture("n1", "n2", "n3", "n4")
	ft := stableUnit()
	ft.CurrentConfigurationEpoch = failover.Epoch{ConfigurationVersion: 4}
	ft.ReconfigurationStartedAt = testStart
	ft.Replica("n3").ToBePromoted = true

	f.run(t, ft, NewMovementTask(failover.Movement{
		Type:       failover.MovementMovePrimary,
		SourceNode: "n1",
		TargetNode: "n4",
	}), nil)

	target := ft.Replica("n4")
	require.NotNil(t, target)
	assert.False(t, target.ToBePromoted)
	assert.Equal(t, failover.RoleIdle, target.CurrentConfigurationRole)
	assert.False(t, ft.Replica("n1").ToBeDropped)
	assert.Equal(t, failover.NodeID("n3"), ft.ToBePromotedReplica().NodeID)
}

func TestMovement_MoveSecondary(t *testing.T) {
	f := newFixture("n1", "n2", "n3", "n4")
	ft := stableUnit()

	actions := f.run(t, ft, NewMovementTask(failover.Movement{
		Type:       failover.MovementMoveSecondary,
		SourceNode: "n2",
		TargetNode: "n4",
	}), nil)

	require.Equal(t, []failover.ActionKind{failover.ActionAddReplica}, kinds(actions))
	assert.Equal(t, failover.NodeID("n4"), actions[0].Replica.NodeID)
	assert.True(t, ft.Replica("n2").ToBeDropped)

	f.settle(t, ft, actions)

	requireStable(t, ft)
	assert.Nil(t, ft.Replica("n2"))
	assert.Equal(t, failover.RoleSecondary, roleOf(t, ft, "n4"))
}

func TestMovement_MoveStatelessInstance(t *testing.T) {
	f := newFixture("n1", "n2", "n3")
	ft := statelessUnit(2, replica("n1", failover.RoleNone, 0), replica("n2", failover.RoleNone, 0))

	actions := f.run(t, ft, NewMovementTask(failover.Movement{
		Type:       failover.MovementMoveSecondary,
		SourceNode: "n1",
		TargetNode: "n3",
	}), nil)

	assert.ElementsMatch(t, []failover.ActionKind{failover.ActionAddInstance, failover.ActionRemoveInstance}, kinds(actions))

	f.settle(t, ft, actions)

	assert.Nil(t, ft.Replica("n1"))
	require.NotNil(t, ft.Replica("n3"))
	assert.True(t, ft.Replica("n3").IsReady())
}

func TestMovement_IgnoredMovements(t *testing.T) {
	tests := []struct {
		name     string
		movement failover.Movement
		stateful bool
	}{
		{name: "swap from non-primary", movement: failover.Movement{Type: failover.MovementSwapPrimarySecondary, SourceNode: "n2", TargetNode: "n3"}, stateful: true},
		{name: "promote unknown replica", movement: failover.Movement{Type: failover.MovementPromoteSecondary, TargetNode: "n9"}, stateful: true},
		{name: "move primary from wrong source", movement: failover.Movement{Type: failover.MovementMovePrimary, SourceNode: "n2", TargetNode: "n4"}, stateful: true},
		{name: "move secondary onto occupied node", movement: failover.Movement{Type: failover.MovementMoveSecondary, SourceNode: "n2", TargetNode: "n3"}, stateful: true},
		{name: "move the primary as secondary", movement: failover.Movement{Type: failover.MovementMoveSecondary, SourceNode: "n1", TargetNode: "n4"}, stateful: true},
		{name: "promote on stateless unit", movement: failover.Movement{Type: failover.MovementPromoteSecondary, TargetNode: "n2"}, stateful: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("n1", "n2", "n3", "n4")
			var ft *failover.FailoverUnit
			if tt.stateful {
				ft = stableUnit()
			} else {
				ft = statelessUnit(3,
					replica("n1", failover.RoleNone, 0),
					replica("n2", failover.RoleNone, 0),
					replica("n3", failover.RoleNone, 0),
				)
			}

			actions := f.run(t, ft, NewMovementTask(tt.movement), nil)

			assert.Empty(t, actions)
			assert.Equal(t, failover.PersistenceNoChange, ft.PersistenceState)
		})
	}
}

func TestMovement_IgnoredWhileDeleting(t *testing.T) {
	f := newFixture("n1", "n2", "n3", "n4")
	ft := stableUnit()
	ft.IsToBeDeleted = true

	f.run(t, ft, NewAutoScalingTask(5), nil)

	assert.Equal(t, 3, ft.TargetReplicaSetSize)
}
