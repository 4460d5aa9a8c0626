package memory

import (
	"context"
	"sync"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/store"
	"github.com/petar/GoLLRB/llrb"
)

// Store is an in-memory implementation of FailoverUnitStore for testing and
// single-process deployments. Units are kept in an ordered tree keyed by ID so
// List returns them in ID order without sorting.
type Store struct {
	mu    sync.RWMutex
	units *llrb.LLRB
}

// unitItem orders units by ID in the tree.
type unitItem struct {
	id   string
	unit *failover.FailoverUnit
}

func (it unitItem) Less(than llrb.Item) bool {
	return it.id < than.(unitItem).id
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{units: llrb.New()}
}

// Get returns a copy of the unit.
// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
func (s *Store) Get(ctx context.Context, id string) (*failover.FailoverUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item := s.units.Get(unitItem{id: id})
	if item == nil {
		return nil, failover.ErrFailoverUnitNotFound
	}

	return item.(unitItem).unit.Clone(), nil
}

// List returns copies of every unit ordered by ID.
func (s *Store) List(ctx context.Context) ([]*failover.FailoverUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]*failover.FailoverUnit, 0, s.units.Len())
	s.units.AscendGreaterOrEqual(unitItem{}, func(item llrb.Item) bool {
		units = append(units, item.(unitItem).unit.Clone())
		return true
	})

	return units, nil
}

// Insert stores a new unit and sets its Version to 1.
// Returns store.ErrFailoverUnitExists if the ID is taken.
func (s *Store) Insert(ctx context.Context, ft *failover.FailoverUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.units.Has(unitItem{id: ft.ID}) {
		return store.ErrFailoverUnitExists
	}

	ft.Version = 1
	s.units.ReplaceOrInsert(unitItem{id: ft.ID, unit: stored(ft)})

	return nil
}

// Update replaces a unit when its Version matches and increments the Version.
// Returns failover.ErrFailoverUnitNotFound or store.ErrVersionMismatch.
func (s *Store) Update(ctx context.Context, ft *failover.FailoverUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.units.Get(unitItem{id: ft.ID})
	if item == nil {
		return failover.ErrFailoverUnitNotFound
	}
	if item.(unitItem).unit.Version != ft.Version {
		return store.ErrVersionMismatch
	}

	ft.Version++
	s.units.ReplaceOrInsert(unitItem{id: ft.ID, unit: stored(ft)})

	return nil
}

// Delete removes a unit.
// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.units.Delete(unitItem{id: id}) == nil {
		return failover.ErrFailoverUnitNotFound
	}

	return nil
}

// Len returns the number of stored units.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.units.Len()
}

func stored(ft *failover.FailoverUnit) *failover.FailoverUnit {
	c := ft.Clone()
	c.PersistenceState = failover.PersistenceNoChange
	return c
}
