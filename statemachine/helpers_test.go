package statemachine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	failover "github.com/getpup/failover-manager"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

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

func (m *mockLogger) Debug(_ context.Context, msg string, args ...interface{}) {
	m.record("debug", msg, args)
}

func (m *mockLogger) Info(_ context.Context, msg string, args ...interface{}) {
	m.record("info", msg, args)
}

func (m *mockLogger) Error(_ context.Context, msg string, args ...interface{}) {
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

// fakeNodes is a static node table.
type fakeNodes struct {
	nodes map[failover.NodeID]bool
}

func newFakeNodes(ids ...failover.NodeID) *fakeNodes {
	f := &fakeNodes{nodes: make(map[failover.NodeID]bool)}
	for _, id := range ids {
		f.nodes[id] = true
	}
	return f
}

func (f *fakeNodes) IsNodeUp(id failover.NodeID) bool {
	return f.nodes[id]
}

func (f *fakeNodes) UpNodes() []failover.NodeID {
	var up []failover.NodeID
	for id, isUp := range f.nodes {
		if isUp {
			up = append(up, id)
		}
	}
	sort.Slice(up, func(i, j int) bool { return up[i] < up[j] })
	return up
}

func (f *fakeNodes) setUp(id failover.NodeID, up bool) {
	f.nodes[id] = up
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	nodes    *fakeNodes
	clock    *fakeClock
	logger   *mockLogger
	pipeline *Pipeline
}

func newFixture(nodes ...failover.NodeID) *fixture {
	return newFixtureWithConfig(Config{}, nodes...)
}

func newFixtureWithConfig(cfg Config, nodes ...failover.NodeID) *fixture {
	f := &fixture{
		nodes:  newFakeNodes(nodes...),
		clock:  &fakeClock{now: testStart},
		logger: &mockLogger{},
	}
	cfg.Nodes = f.nodes
	cfg.Policy = DefaultPolicy{Nodes: f.nodes}
	cfg.Clock = f.clock.Now
	cfg.Logger = f.logger
	f.pipeline = New(cfg)
	return f
}

// run executes one pass after committing the previous one.
func (f *fixture) run(t *testing.T, ft *failover.FailoverUnit, dynamic *DynamicTask, message Message) []failover.Action {
	t.Helper()
	if ft.PersistenceState != failover.PersistenceInsert {
		ft.PersistenceState = failover.PersistenceNoChange
	}
	before := ft.CurrentConfigurationEpoch
	actions := f.pipeline.Run(context.Background(), ft, dynamic, message)
	require.NoError(t, ft.Validate())
	require.False(t, ft.CurrentConfigurationEpoch.Less(before), "epoch went backwards")
	return actions
}

// requireIdempotent commits ft and checks a second pass changes nothing.
func (f *fixture) requireIdempotent(t *testing.T, ft *failover.FailoverUnit) {
	t.Helper()
	ft.PersistenceState = failover.PersistenceNoChange
	actions := f.pipeline.Run(context.Background(), ft, nil, nil)
	require.Empty(t, actions)
	require.Equal(t, failover.PersistenceNoChange, ft.PersistenceState)
}

// settle answers every action successfully, feeding each reply back through the
// pipeline, until no action is left. It returns every action produced on the way.
func (f *fixture) settle(t *testing.T, ft *failover.FailoverUnit, actions []failover.Action) []failover.Action {
	t.Helper()
	var all []failover.Action
	queue := append([]failover.Action(nil), actions...)
	for i := 0; len(queue) > 0; i++ {
		require.Less(t, i, 200, "pipeline did not settle")
		a := queue[0]
		queue = queue[1:]

		msg := successReply(ft, a)
		if msg == nil {
			continue
		}
		out := f.run(t, ft, nil, msg)
		all = append(all, out...)
		queue = append(queue, out...)
	}
	return all
}

func successReply(ft *failover.FailoverUnit, a failover.Action) Message {
	switch a.Kind {
	case failover.ActionAddPrimary:
		return NewMessageTask(ft.ID, a.Replica, AddPrimaryReply{})
	case failover.ActionAddReplica, failover.ActionAddInstance:
		return NewMessageTask(ft.ID, a.Replica, AddReplicaReply{})
	case failover.ActionRemoveReplica, failover.ActionRemoveInstance:
		return NewMessageTask(ft.ID, a.Replica, RemoveReplicaReply{})
	case failover.ActionDeleteReplica, failover.ActionDeleteInstance:
		return NewMessageTask(ft.ID, a.Replica, DeleteReplicaReply{})
	case failover.ActionDoReconfiguration:
		return NewMessageTask(ft.ID, a.Replica, DoReconfigurationReply{Epoch: a.CurrentEpoch})
	default:
		return nil
	}
}

// statefulUnit builds a committed stateful unit (target 3, min 2) at epoch 0:1.
func statefulUnit(replicas ...failover.Replica) *failover.FailoverUnit {
	ft := failover.NewFailoverUnit("ft-1", "svc", true, 3, 2)
	ft.PersistenceState = failover.PersistenceNoChange
	ft.PreviousConfigurationEpoch = failover.Epoch{ConfigurationVersion: 1}
	ft.CurrentConfigurationEpoch = failover.Epoch{ConfigurationVersion: 1}
	ft.NextInstanceID = 10
	ft.Replicas = replicas
	return ft
}

// statelessUnit builds a committed stateless unit with the given target.
func statelessUnit(target int, replicas ...failover.Replica) *failover.FailoverUnit {
	ft := failover.NewFailoverUnit("ft-1", "svc", false, target, 1)
	ft.PersistenceState = failover.PersistenceNoChange
	ft.NextInstanceID = 10
	ft.Replicas = replicas
	return ft
}

// replica builds a Ready, up replica holding role in both configurations.
func replica(node failover.NodeID, role failover.ReplicaRole, sequenceNumber int64) failover.Replica {
	return failover.Replica{
		NodeID:                    node,
		InstanceID:                1,
		PreviousConfigurationRole: role,
		CurrentConfigurationRole:  role,
		State:                     failover.ReplicaStateReady,
		IsUp:                      true,
		LastSequenceNumber:        sequenceNumber,
		LastUpdated:               testStart,
	}
}

func down(r failover.Replica) failover.Replica {
	r.IsUp = false
	return r
}

func standBy(node failover.NodeID, sequenceNumber int64) failover.Replica {
	r := replica(node, failover.RoleNone, sequenceNumber)
	r.State = failover.ReplicaStateStandBy
	return r
}

func kinds(actions []failover.Action) []failover.ActionKind {
	out := make([]failover.ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind)
	}
	return out
}

func ofKind(actions []failover.Action, kind failover.ActionKind) []failover.Action {
	var out []failover.Action
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func roleOf(t *testing.T, ft *failover.FailoverUnit, node failover.NodeID) failover.ReplicaRole {
	t.Helper()
	r := ft.Replica(node)
	require.NotNil(t, r, "no replica on %s", node)
	return r.CurrentConfigurationRole
}

// requireStable checks ft is out of reconfiguration with a ready primary and
// target-many ready configuration members.
func requireStable(t *testing.T, ft *failover.FailoverUnit) {
	t.Helper()
	require.False(t, ft.IsReconfiguring(), "unit still reconfiguring")
	primary := ft.Primary()
	require.NotNil(t, primary)
	require.True(t, primary.IsReady())
	cc := ft.CurrentConfiguration()
	require.Len(t, cc, ft.TargetReplicaSetSize)
	for _, r := range cc {
		require.True(t, r.IsReady(), "replica %s not ready", r.ID())
		require.True(t, r.IsUp, "replica %s down", r.ID())
	}
}
