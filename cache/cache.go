// Package cache holds the committed in-memory copy of every FailoverUnit and
// hands out exclusive, per-unit locks for pipeline passes.
//
// A locked unit is a working clone. Commit persists it through the store and
// installs it as the new committed copy; Release or a failed Commit discard it,
// so a pass that could not be persisted leaves no trace in memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/store"
)

var (
	// ErrLocked is returned by TryLock when another holder owns the unit.
	ErrLocked = errors.New("failover unit locked")

	// ErrReleased is returned when a released lock is used again.
	ErrReleased = errors.New("failover unit lock released")
)

// Cache is a concurrency-safe map of committed FailoverUnits backed by a store.
type Cache struct {
	store store.FailoverUnitStore

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	// lock has capacity one; holding its token is holding the unit.
	lock chan struct{}

	mu        sync.RWMutex
	committed *failover.FailoverUnit
	evicted   bool
}

// New creates an empty cache persisting through s.
func New(s store.FailoverUnitStore) *Cache {
	return &Cache{
		store:   s,
		entries: make(map[string]*entry),
	}
}

func newEntry(ft *failover.FailoverUnit) *entry {
	c := ft.Clone()
	c.PersistenceState = failover.PersistenceNoChange
	return &entry{
		lock:      make(chan struct{}, 1),
		committed: c,
	}
}

// Load adds every stored unit that is not cached yet and returns how many were added.
func (c *Cache) Load(ctx context.Context) (int, error) {
	units, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load failover units: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, ft := range units {
		if _, ok := c.entries[ft.ID]; ok {
			continue
		}
		c.entries[ft.ID] = newEntry(ft)
		added++
	}
	return added, nil
}

// Add inserts a new unit into the store and the cache.
// Returns store.ErrFailoverUnitExists if the ID is already cached or stored.
func (c *Cache) Add(ctx context.Context, ft *failover.FailoverUnit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ft.ID]; ok {
		return store.ErrFailoverUnitExists
	}

	ft.PersistenceState = failover.PersistenceInsert
	if err := c.store.Insert(ctx, ft); err != nil {
		return fmt.Errorf("failed to insert failover unit %s: %w", ft.ID, err)
	}
	ft.PersistenceState = failover.PersistenceNoChange

	c.entries[ft.ID] = newEntry(ft)
	return nil
}

func (c *Cache) get(id string) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, failover.ErrFailoverUnitNotFound
	}
	return e, nil
}

// Lock blocks until the unit is exclusively held or ctx is done.
// Returns failover.ErrFailoverUnitNotFound if the unit is not cached.
func (c *Cache) Lock(ctx context.Context, id string) (*LockedFailoverUnit, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.locked(id, e)
}

// TryLock holds the unit without blocking.
// Returns ErrLocked if another holder owns it.
func (c *Cache) TryLock(id string) (*LockedFailoverUnit, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}

	select {
	case e.lock <- struct{}{}:
	default:
		return nil, ErrLocked
	}

	return c.locked(id, e)
}

func (c *Cache) locked(id string, e *entry) (*LockedFailoverUnit, error) {
	e.mu.RLock()
	evicted := e.evicted
	working := e.committed.Clone()
	e.mu.RUnlock()

	if evicted {
		<-e.lock
		return nil, failover.ErrFailoverUnitNotFound
	}

	return &LockedFailoverUnit{cache: c, id: id, entry: e, working: working}, nil
}

// Snapshot returns a copy of the committed unit without taking the lock.
func (c *Cache) Snapshot(id string) (*failover.FailoverUnit, error) {
	e, err := c.get(id)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed.Clone(), nil
}

// Contains reports whether the unit is cached.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// IDs returns the cached unit IDs in ascending order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of cached units.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evict(id string, e *entry) {
	c.mu.Lock()
	if c.entries[id] == e {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
}
