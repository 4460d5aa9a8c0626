package executor

import (
	"context"
	"sync"

	failover "github.com/getpup/failover-manager"
)

// MockDispatcher is a mock implementation of Dispatcher for testing.
type MockDispatcher struct {
	mu            sync.Mutex
	DispatchFunc  func(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error
	DispatchCalls []DispatchCall
}

// DispatchCall records the parameters of a single Dispatch call.
type DispatchCall struct {
	Unit    *failover.FailoverUnit
	Actions []failover.Action
}

// NewMockDispatcher creates a new MockDispatcher with an empty call history.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{
		DispatchCalls: make([]DispatchCall, 0),
	}
}

// Dispatch implements the Dispatcher interface.
// It records a snapshot of the unit and the actions, then calls DispatchFunc
// if set and returns nil otherwise.
func (m *MockDispatcher) Dispatch(ctx context.Context, ft *failover.FailoverUnit, actions []failover.Action) error {
	m.mu.Lock()
	m.DispatchCalls = append(m.DispatchCalls, DispatchCall{
		Unit:    ft.Clone(),
		Actions: append([]failover.Action(nil), actions...),
	})
	m.mu.Unlock()

	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, ft, actions)
	}
	return nil
}

// Calls returns a copy of the call history.
func (m *MockDispatcher) Calls() []DispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DispatchCall(nil), m.DispatchCalls...)
}

// Actions returns every dispatched action in order.
func (m *MockDispatcher) Actions() []failover.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var actions []failover.Action
	for _, c := range m.DispatchCalls {
		actions = append(actions, c.Actions...)
	}
	return actions
}

// Reset clears the call history.
func (m *MockDispatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchCalls = make([]DispatchCall, 0)
}
