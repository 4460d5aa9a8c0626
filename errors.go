package failover

import "github.com/cockroachdb/errors"

var (
	// ErrFailoverUnitNotFound indicates the unit does not exist.
	ErrFailoverUnitNotFound = errors.New("failover unit not found")

	// ErrReplicaNotFound indicates a message referenced a replica the unit no longer has.
	ErrReplicaNotFound = errors.New("replica not found")

	// ErrStaleMessage indicates a message referenced an older replica instance or epoch.
	ErrStaleMessage = errors.New("stale message")

	// ErrNotInConfiguration indicates the sender is not a member of the current configuration.
	ErrNotInConfiguration = errors.New("replica not in current configuration")

	// ErrPromotionPending indicates another replica is already marked to be promoted.
	ErrPromotionPending = errors.New("promotion already pending")

	// ErrFailoverUnitDeleted indicates the unit was already deleted.
	ErrFailoverUnitDeleted = errors.New("failover unit deleted")
)
