package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/cache"
	"github.com/getpup/failover-manager/executor"
	"github.com/getpup/failover-manager/lifecycle"
	"github.com/getpup/failover-manager/metrics"
	"github.com/getpup/failover-manager/statemachine"
	"github.com/getpup/failover-manager/store"
	"github.com/getpup/failover-manager/store/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger captures log calls for testing
type mockLogger struct {
	mu    sync.Mutex
	calls []logCall
}

type logCall struct {
	level   string
	message string
	args    []interface{}
}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	m.record("debug", msg, args)
}

func (m *mockLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	m.record("info", msg, args)
}

func (m *mockLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	m.record("error", msg, args)
}

func (m *mockLogger) record(level, msg string, args []interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, logCall{level: level, message: msg, args: args})
}

func (m *mockLogger) hasMessage(level, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.level == level && c.message == msg {
			return true
		}
	}
	return false
}

type harness struct {
	coordinator *Coordinator
	cache       *cache.Cache
	nodes       *lifecycle.Manager
	dispatcher  *executor.MockDispatcher
	logger      *mockLogger
}

func newHarness(t *testing.T, s store.FailoverUnitStore, nodes ...failover.NodeID) *harness {
	t.Helper()

	h := &harness{
		cache:      cache.New(s),
		dispatcher: executor.NewMockDispatcher(),
		logger:     &mockLogger{},
	}
	h.nodes = lifecycle.New(lifecycle.Config{
		OnNodeStatusChange: func(ctx context.Context, nodeID failover.NodeID, up bool) {
			if h.coordinator != nil {
				h.coordinator.NodeStatusChanged(ctx, nodeID, up)
			}
		},
	})
	for _, n := range nodes {
		h.nodes.Heartbeat(context.Background(), n)
	}

	h.coordinator = New(Config{
		Cache: h.cache,
		Pipeline: statemachine.New(statemachine.Config{
			Nodes:  h.nodes,
			Policy: statemachine.DefaultPolicy{Nodes: h.nodes},
		}),
		Dispatcher:         h.dispatcher,
		Workers:            3,
		ScanInterval:       time.Hour,
		DispatchRetryDelay: 10 * time.Millisecond,
		Logger:             h.logger,
	})
	return h
}

// start runs the coordinator until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coordinator.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("coordinator did not stop")
		}
	})
}

// autoReply acknowledges every node-bound action successfully.
func (h *harness) autoReply() {
	h.dispatcher.DispatchFunc = func(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error {
		for _, a := range actions {
			if msg := executor.SuccessReply(a); msg != nil {
				_ = h.coordinator.SubmitMessage(msg)
			}
		}
		return nil
	}
}

func (h *harness) snapshot(t *testing.T, id string) *failover.FailoverUnit {
	t.Helper()
	ft, err := h.cache.Snapshot(id)
	require.NoError(t, err)
	return ft
}

func countKind(actions []failover.Action, kind failover.ActionKind) int {
	n := 0
	for _, a := range actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func readyCount(ft *failover.FailoverUnit) int {
	n := 0
	for i := range ft.Replicas {
		if ft.Replicas[i].IsReady() {
			n++
		}
	}
	return n
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{})

	assert.Equal(t, 4, c.config.Workers)
	assert.Equal(t, 10*time.Second, c.config.ScanInterval)
	assert.Equal(t, time.Second, c.config.DispatchRetryDelay)
}

func TestSubmit_UnknownUnit(t *testing.T) {
	h := newHarness(t, memory.New())

	err := h.coordinator.SubmitMovement("missing", failover.Movement{})
	assert.ErrorIs(t, err, failover.ErrFailoverUnitNotFound)

	err = h.coordinator.SubmitAutoScale("missing", 3)
	assert.ErrorIs(t, err, failover.ErrFailoverUnitNotFound)

	assert.Equal(t, 0, h.coordinator.Pending())
}

func TestQueue_FIFOPerUnitAndExclusive(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-a", "svc", false, 1, 1)))
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-b", "svc", false, 1, 1)))
	c := h.coordinator

	require.NoError(t, c.SubmitAutoScale("ft-a", 1))
	require.NoError(t, c.SubmitAutoScale("ft-a", 2))
	require.NoError(t, c.SubmitAutoScale("ft-b", 3))
	assert.Equal(t, 2, c.Pending(), "one ready entry per unit")

	id, w, ok := c.next()
	require.True(t, ok)
	assert.Equal(t, "ft-a", id)
	assert.Equal(t, 1, w.dynamic.TargetReplicaSetSize)

	id, w, ok = c.next()
	require.True(t, ok)
	assert.Equal(t, "ft-b", id, "ft-a is in progress")
	assert.Equal(t, 3, w.dynamic.TargetReplicaSetSize)

	_, _, ok = c.next()
	assert.False(t, ok)

	c.done("ft-a")
	id, w, ok = c.next()
	require.True(t, ok)
	assert.Equal(t, "ft-a", id)
	assert.Equal(t, 2, w.dynamic.TargetReplicaSetSize)
}

func TestEnqueue_NoopWhileQueued(t *testing.T) {
	h := newHarness(t, memory.New())
	require.NoError(t, h.cache.Add(context.Background(), failover.NewFailoverUnit("ft-a", "svc", false, 1, 1)))
	c := h.coordinator

	c.Enqueue("ft-a")
	c.Enqueue("ft-a")

	assert.Len(t, c.queues["ft-a"], 1)
}

func TestScan_SkipsUnitsWithPendingWork(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	for _, id := range []string{"ft-a", "ft-b", "ft-c"} {
		require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit(id, "svc", false, 1, 1)))
	}
	c := h.coordinator
	require.NoError(t, c.SubmitAutoScale("ft-a", 2))
	_, _, ok := c.next()
	require.True(t, ok)
	require.NoError(t, c.SubmitAutoScale("ft-b", 2))

	c.Scan(ctx)

	assert.Len(t, c.queues["ft-a"], 0, "in progress")
	assert.Len(t, c.queues["ft-b"], 1, "already queued")
	assert.Len(t, c.queues["ft-c"], 1)
	assert.Equal(t, 2, c.Pending())
}

func TestNodeStatusChanged_EnqueuesAffectedUnits(t *testing.T) {
	h := newHarness(t, memory.New(), "n1", "n2")
	ctx := context.Background()

	onNode := failover.NewFailoverUnit("ft-on", "svc", false, 1, 1)
	r := onNode.CreateReplica("n1", failover.RoleNone, time.Now())
	r.State = failover.ReplicaStateReady
	require.NoError(t, h.cache.Add(ctx, onNode))

	elsewhere := failover.NewFailoverUnit("ft-elsewhere", "svc", false, 1, 1)
	r = elsewhere.CreateReplica("n2", failover.RoleNone, time.Now())
	r.State = failover.ReplicaStateReady
	require.NoError(t, h.cache.Add(ctx, elsewhere))

	short := failover.NewFailoverUnit("ft-short", "svc", false, 1, 1)
	require.NoError(t, h.cache.Add(ctx, short))

	h.coordinator.NodeStatusChanged(ctx, "n1", false)
	assert.Len(t, h.coordinator.queues["ft-on"], 1)
	assert.Len(t, h.coordinator.queues["ft-elsewhere"], 0)
	assert.Len(t, h.coordinator.queues["ft-short"], 0)

	h.coordinator.NodeStatusChanged(ctx, "n3", true)
	assert.Len(t, h.coordinator.queues["ft-short"], 1, "units short of replicas can use the new node")
}

func TestProcess_PersistenceFailureDiscardsActions(t *testing.T) {
	s := store.NewMockFailoverUnitStore()
	s.UpdateFunc = func(context.Context, *failover.FailoverUnit) error {
		return store.ErrVersionMismatch
	}
	h := newHarness(t, s, "n1", "n2")
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", false, 2, 1)))

	h.coordinator.process(ctx, "ft-1", work{})

	assert.Empty(t, h.dispatcher.Calls())
	assert.Empty(t, h.snapshot(t, "ft-1").Replicas)
	assert.True(t, h.logger.hasMessage("error", "pipeline pass discarded"))
	assert.Len(t, s.UpdateCalls, 1)
}

func TestProcess_ValidationFailureDiscardsActions(t *testing.T) {
	s := store.NewMockFailoverUnitStore()
	h := newHarness(t, s, "n1", "n2")
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", false, 1, 2)))
	h.coordinator.config.Metrics = metrics.NewCollector("coordinator-validate")

	h.coordinator.process(ctx, "ft-1", work{})

	assert.Empty(t, h.dispatcher.Calls())
	assert.Empty(t, s.UpdateCalls)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PassFailuresTotal.WithLabelValues("coordinator-validate", "validate")))
}

func TestProcess_MutatingPassIsFollowedUp(t *testing.T) {
	h := newHarness(t, memory.New(), "n1", "n2")
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", false, 2, 1)))

	h.coordinator.process(ctx, "ft-1", work{})

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 2, countKind(calls[0].Actions, failover.ActionAddInstance))
	assert.Len(t, h.coordinator.queues["ft-1"], 1, "follow-up pass queued")

	id, w, ok := h.coordinator.next()
	require.True(t, ok)
	h.coordinator.process(ctx, id, w)
	h.coordinator.done(id)

	assert.Len(t, h.dispatcher.Calls(), 1, "converged pass sends nothing")
	assert.Empty(t, h.coordinator.queues["ft-1"], "no follow-up for a pass without changes")
}

func TestProcess_UnknownUnitIsForgotten(t *testing.T) {
	h := newHarness(t, memory.New())
	h.coordinator.queues["ghost"] = []work{{}}

	h.coordinator.process(context.Background(), "ghost", work{})

	assert.NotContains(t, h.coordinator.queues, "ghost")
}

func TestRun_StatelessUnitConverges(t *testing.T) {
	h := newHarness(t, memory.New(), "n1", "n2", "n3")
	h.autoReply()
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", false, 2, 1)))
	h.start(t)

	h.coordinator.Enqueue("ft-1")

	assert.Eventually(t, func() bool {
		return readyCount(h.snapshot(t, "ft-1")) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_StatefulUnitConvergesAndFailsOver(t *testing.T) {
	h := newHarness(t, memory.New(), "n1", "n2", "n3")
	h.autoReply()
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", true, 3, 2)))
	h.start(t)

	h.coordinator.Enqueue("ft-1")

	var firstPrimary failover.NodeID
	require.Eventually(t, func() bool {
		ft := h.snapshot(t, "ft-1")
		if ft.IsReconfiguring() || len(ft.CurrentConfiguration()) != 3 || ft.Primary() == nil {
			return false
		}
		firstPrimary = ft.Primary().NodeID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	before := countKind(h.dispatcher.Actions(), failover.ActionDoReconfiguration)
	h.nodes.MarkNodeDown(ctx, firstPrimary)

	require.Eventually(t, func() bool {
		ft := h.snapshot(t, "ft-1")
		p := ft.Primary()
		return !ft.IsReconfiguring() && p != nil && p.NodeID != firstPrimary && p.IsUp
	}, 5*time.Second, 10*time.Millisecond)

	ft := h.snapshot(t, "ft-1")
	assert.Equal(t, int64(0), ft.CurrentConfigurationEpoch.DataLossVersion)
	assert.Greater(t, countKind(h.dispatcher.Actions(), failover.ActionDoReconfiguration), before)
}

func TestRun_DispatchFailureIsRetried(t *testing.T) {
	h := newHarness(t, memory.New(), "n1")
	ctx := context.Background()
	require.NoError(t, h.cache.Add(ctx, failover.NewFailoverUnit("ft-1", "svc", false, 1, 1)))

	var mu sync.Mutex
	attempts := 0
	h.dispatcher.DispatchFunc = func(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error {
		mu.Lock()
		defer mu.Unlock()
		var failed []executor.FailedAction
		for _, a := range actions {
			if a.Kind != failover.ActionAddInstance {
				continue
			}
			attempts++
			if attempts == 1 {
				failed = append(failed, executor.FailedAction{Action: a, Err: errors.New("unreachable")})
				continue
			}
			_ = h.coordinator.SubmitMessage(executor.SuccessReply(a))
		}
		if len(failed) > 0 {
			return &executor.DispatchError{FailoverUnitID: ft.ID, Failed: failed}
		}
		return nil
	}
	h.start(t)

	h.coordinator.Enqueue("ft-1")

	assert.Eventually(t, func() bool {
		return readyCount(h.snapshot(t, "ft-1")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}

func TestFailureReply(t *testing.T) {
	replica := failover.ReplicaID{NodeID: "n1", InstanceID: 2}
	err := errors.New("unreachable")

	tests := []struct {
		kind     failover.ActionKind
		expected string
	}{
		{kind: failover.ActionAddPrimary, expected: "AddPrimaryReply"},
		{kind: failover.ActionAddReplica, expected: "AddReplicaReply"},
		{kind: failover.ActionAddInstance, expected: "AddReplicaReply"},
		{kind: failover.ActionRemoveReplica, expected: "RemoveReplicaReply"},
		{kind: failover.ActionRemoveInstance, expected: "RemoveReplicaReply"},
		{kind: failover.ActionDeleteReplica, expected: "DeleteReplicaReply"},
		{kind: failover.ActionDeleteInstance, expected: "DeleteReplicaReply"},
		{kind: failover.ActionDoReconfiguration, expected: "DoReconfigurationReply"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			msg := failureReply(failover.Action{Kind: tt.kind, FailoverUnitID: "ft-1", Replica: replica}, err)

			require.NotNil(t, msg)
			assert.Equal(t, "ft-1", msg.FailoverUnitID())
			assert.Equal(t, tt.expected, msg.Kind())
		})
	}

	assert.Nil(t, failureReply(failover.Action{Kind: failover.ActionChangeConfigurationReply}, err))
}
