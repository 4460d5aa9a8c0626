package store

import "errors"

var (
	// ErrFailoverUnitExists indicates an insert collided with a stored unit.
	ErrFailoverUnitExists = errors.New("failover unit already exists")

	// ErrVersionMismatch indicates the unit was modified since it was read.
	ErrVersionMismatch = errors.New("failover unit version mismatch")
)
