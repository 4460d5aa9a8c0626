package store

import (
	"context"

	failover "github.com/getpup/failover-manager"
)

// FailoverUnitStore provides persistence for FailoverUnits.
// Implementations must be safe for concurrent access from multiple workers.
//
// Units carry an optimistic Version. Insert sets it to 1 and every successful
// Update increments it on the passed unit; an Update whose Version does not
// match the stored one fails with ErrVersionMismatch.
type FailoverUnitStore interface {
	// Get returns a copy of the unit.
	// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
	Get(ctx context.Context, id string) (*failover.FailoverUnit, error)

	// List returns every stored unit ordered by ID.
	// Returns an empty slice if the store is empty.
	List(ctx context.Context) ([]*failover.FailoverUnit, error)

	// Insert stores a new unit.
	// Returns ErrFailoverUnitExists if a unit with the same ID is stored.
	Insert(ctx context.Context, ft *failover.FailoverUnit) error

	// Update replaces a stored unit.
	// Returns failover.ErrFailoverUnitNotFound or ErrVersionMismatch.
	Update(ctx context.Context, ft *failover.FailoverUnit) error

	// Delete removes a unit.
	// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
	Delete(ctx context.Context, id string) error
}

// Persist writes ft according to its PersistenceState.
// NoChange is a no-op.
func Persist(ctx context.Context, s FailoverUnitStore, ft *failover.FailoverUnit) error {
	switch ft.PersistenceState {
	case failover.PersistenceInsert:
		return s.Insert(ctx, ft)
	case failover.PersistenceUpdate:
		return s.Update(ctx, ft)
	case failover.PersistenceDelete:
		return s.Delete(ctx, ft.ID)
	default:
		return nil
	}
}
