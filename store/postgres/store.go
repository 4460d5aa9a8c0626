package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/failover-manager/store"
)

// Store is a PostgreSQL implementation of FailoverUnitStore.
// Each unit is one row holding its JSON state and an optimistic version.
type Store struct {
	db    *sql.DB
	table string
}

// New creates a new PostgreSQL store with the default table name.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new PostgreSQL store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:    db,
		table: config.FailoverUnitsTable,
	}
}

// Get returns the unit with the given ID.
// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
func (s *Store) Get(ctx context.Context, id string) (*failover.FailoverUnit, error) {
	query := fmt.Sprintf(`
		SELECT version, state
		FROM %s
		WHERE id = $1
	`, s.table)

	var version int64
	var state []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&version, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failover.ErrFailoverUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failover unit: %w", err)
	}

	return decodeUnit(state, version)
}

// List returns every unit ordered by ID.
func (s *Store) List(ctx context.Context) (units []*failover.FailoverUnit, err error) {
	query := fmt.Sprintf(`
		SELECT version, state
		FROM %s
		ORDER BY id
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list failover units: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	units = []*failover.FailoverUnit{}
	for rows.Next() {
		var version int64
		var state []byte
		if err := rows.Scan(&version, &state); err != nil {
			return nil, fmt.Errorf("failed to scan failover unit: %w", err)
		}
		ft, err := decodeUnit(state, version)
		if err != nil {
			return nil, err
		}
		units = append(units, ft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failover units: %w", err)
	}

	return units, nil
}

// Insert stores a new unit at version 1.
// Returns store.ErrFailoverUnitExists if the ID is taken.
func (s *Store) Insert(ctx context.Context, ft *failover.FailoverUnit) error {
	state, err := encodeUnit(ft)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, service_name, version, state, updated_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`, s.table)

	result, err := s.db.ExecContext(ctx, query, ft.ID, ft.ServiceName, state)
	if err != nil {
		return fmt.Errorf("failed to insert failover unit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrFailoverUnitExists
	}

	ft.Version = 1
	return nil
}

// Update replaces the stored unit if its version still matches ft.Version.
// Returns failover.ErrFailoverUnitNotFound or store.ErrVersionMismatch.
func (s *Store) Update(ctx context.Context, ft *failover.FailoverUnit) error {
	state, err := encodeUnit(ft)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET state = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, s.table)

	result, err := s.db.ExecContext(ctx, query, ft.ID, ft.Version, state)
	if err != nil {
		return fmt.Errorf("failed to update failover unit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.missOrConflict(ctx, ft.ID)
	}

	ft.Version++
	return nil
}

// Delete removes a unit.
// Returns failover.ErrFailoverUnitNotFound if the unit does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete failover unit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return failover.ErrFailoverUnitNotFound
	}

	return nil
}

// missOrConflict tells a missing row apart from a stale version after an
// update matched nothing.
func (s *Store) missOrConflict(ctx context.Context, id string) error {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, s.table)

	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return failover.ErrFailoverUnitNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check failover unit: %w", err)
	}

	return store.ErrVersionMismatch
}

// encodeUnit serializes the unit without its bookkeeping fields; the version
// lives in its own column.
func encodeUnit(ft *failover.FailoverUnit) ([]byte, error) {
	c := ft.Clone()
	c.Version = 0
	c.PersistenceState = failover.PersistenceNoChange

	state, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failover unit %s: %w", ft.ID, err)
	}
	return state, nil
}

func decodeUnit(state []byte, version int64) (*failover.FailoverUnit, error) {
	var ft failover.FailoverUnit
	if err := json.Unmarshal(state, &ft); err != nil {
		return nil, fmt.Errorf("failed to decode failover unit: %w", err)
	}
	ft.Version = version
	ft.PersistenceState = failover.PersistenceNoChange
	return &ft, nil
}
