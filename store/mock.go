package store

import (
	"context"
	"sync"

	failover "github.com/getpup/failover-manager"
)

// MockFailoverUnitStore is a configurable mock implementation of FailoverUnitStore
// for use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockFailoverUnitStore struct {
	mu sync.RWMutex

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, id string) (*failover.FailoverUnit, error)

	// ListFunc is called by List if set.
	ListFunc func(ctx context.Context) ([]*failover.FailoverUnit, error)

	// InsertFunc is called by Insert if set.
	InsertFunc func(ctx context.Context, ft *failover.FailoverUnit) error

	// UpdateFunc is called by Update if set.
	UpdateFunc func(ctx context.Context, ft *failover.FailoverUnit) error

	// DeleteFunc is called by Delete if set.
	DeleteFunc func(ctx context.Context, id string) error

	// Call tracking
	GetCalls    []GetCall
	ListCalls   int
	InsertCalls []WriteCall
	UpdateCalls []WriteCall
	DeleteCalls []DeleteCall
}

// Call tracking structs
type GetCall struct {
	ID string
}

// WriteCall records a snapshot of the unit as it was passed in.
type WriteCall struct {
	Unit *failover.FailoverUnit
}

type DeleteCall struct {
	ID string
}

// NewMockFailoverUnitStore creates a new mock store.
func NewMockFailoverUnitStore() *MockFailoverUnitStore {
	return &MockFailoverUnitStore{}
}

// Get implements FailoverUnitStore.
func (m *MockFailoverUnitStore) Get(ctx context.Context, id string) (*failover.FailoverUnit, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, GetCall{ID: id})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}

	return nil, failover.ErrFailoverUnitNotFound
}

// List implements FailoverUnitStore.
func (m *MockFailoverUnitStore) List(ctx context.Context) ([]*failover.FailoverUnit, error) {
	m.mu.Lock()
	m.ListCalls++
	m.mu.Unlock()

	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}

	return nil, nil
}

// Insert implements FailoverUnitStore.
func (m *MockFailoverUnitStore) Insert(ctx context.Context, ft *failover.FailoverUnit) error {
	m.mu.Lock()
	m.InsertCalls = append(m.InsertCalls, WriteCall{Unit: ft.Clone()})
	m.mu.Unlock()

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, ft)
	}

	return nil
}

// Update implements FailoverUnitStore.
func (m *MockFailoverUnitStore) Update(ctx context.Context, ft *failover.FailoverUnit) error {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, WriteCall{Unit: ft.Clone()})
	m.mu.Unlock()

	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, ft)
	}

	return nil
}

// Delete implements FailoverUnitStore.
func (m *MockFailoverUnitStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{ID: id})
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}

	return nil
}

// WriteCount returns the total number of Insert, Update and Delete calls.
func (m *MockFailoverUnitStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.InsertCalls) + len(m.UpdateCalls) + len(m.DeleteCalls)
}

// Reset clears all call tracking data.
func (m *MockFailoverUnitStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = nil
	m.ListCalls = 0
	m.InsertCalls = nil
	m.UpdateCalls = nil
	m.DeleteCalls = nil
}
