package executor

import (
	"context"
	"errors"
	"testing"

	failover "github.com/getpup/failover-manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDispatcher_RecordsCalls(t *testing.T) {
	mock := NewMockDispatcher()
	ctx := context.Background()
	ft := failover.NewFailoverUnit("ft-1", "svc", true, 3, 2)
	actions := []failover.Action{
		{Kind: failover.ActionAddPrimary, FailoverUnitID: "ft-1", NodeID: "n1"},
		{Kind: failover.ActionQuorumLost, FailoverUnitID: "ft-1"},
	}

	err := mock.Dispatch(ctx, ft, actions)

	require.NoError(t, err)
	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ft-1", calls[0].Unit.ID)
	assert.Equal(t, actions, calls[0].Actions)
}

func TestMockDispatcher_SnapshotsUnit(t *testing.T) {
	mock := NewMockDispatcher()
	ft := failover.NewFailoverUnit("ft-1", "svc", true, 3, 2)

	_ = mock.Dispatch(context.Background(), ft, nil)
	ft.TargetReplicaSetSize = 7

	assert.Equal(t, 3, mock.Calls()[0].Unit.TargetReplicaSetSize)
}

func TestMockDispatcher_UsesDispatchFunc(t *testing.T) {
	mock := NewMockDispatcher()
	expected := errors.New("dispatch failed")
	mock.DispatchFunc = func(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error {
		return expected
	}

	err := mock.Dispatch(context.Background(), failover.NewFailoverUnit("ft-1", "svc", false, 1, 1), nil)

	assert.ErrorIs(t, err, expected)
}

func TestMockDispatcher_ActionsAndReset(t *testing.T) {
	mock := NewMockDispatcher()
	ctx := context.Background()
	ft := failover.NewFailoverUnit("ft-1", "svc", false, 2, 1)

	_ = mock.Dispatch(ctx, ft, []failover.Action{{Kind: failover.ActionAddInstance, NodeID: "n1"}})
	_ = mock.Dispatch(ctx, ft, []failover.Action{{Kind: failover.ActionAddInstance, NodeID: "n2"}})

	actions := mock.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, failover.NodeID("n2"), actions[1].NodeID)

	mock.Reset()
	assert.Empty(t, mock.Calls())
	assert.Empty(t, mock.Actions())
}
