package cache

import (
	"context"
	"fmt"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/store"
)

// LockedFailoverUnit is the exclusive hold on one unit. Exactly one of Commit
// or Release must be called; calling Release after Commit is a no-op, so
// `defer locked.Release()` is always safe.
type LockedFailoverUnit struct {
	cache    *Cache
	id       string
	entry    *entry
	working  *failover.FailoverUnit
	released bool
}

// FailoverUnit returns the working copy. Mutations are discarded unless committed.
func (l *LockedFailoverUnit) FailoverUnit() *failover.FailoverUnit {
	return l.working
}

// Commit persists the working copy if its PersistenceState asks for it,
// installs it as the committed copy and releases the lock. A Delete evicts
// the unit from the cache. On a store error the working copy is discarded,
// the lock released and the error returned.
func (l *LockedFailoverUnit) Commit(ctx context.Context) error {
	if l.released {
		return ErrReleased
	}
	defer l.Release()

	ft := l.working
	if err := store.Persist(ctx, l.cache.store, ft); err != nil {
		return fmt.Errorf("failed to persist failover unit %s: %w", l.id, err)
	}

	if ft.PersistenceState == failover.PersistenceDelete {
		l.cache.evict(l.id, l.entry)
		return nil
	}

	ft.PersistenceState = failover.PersistenceNoChange
	l.entry.mu.Lock()
	l.entry.committed = ft.Clone()
	l.entry.mu.Unlock()
	return nil
}

// Release discards uncommitted changes and frees the lock.
func (l *LockedFailoverUnit) Release() {
	if l.released {
		return
	}
	l.released = true
	l.working = nil
	<-l.entry.lock
}
