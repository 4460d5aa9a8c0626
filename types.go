package failover

import (
	"fmt"
	"time"
)

// NodeID identifies a cluster node. Node IDs are ordered lexicographically,
// and that order is the tie-break used wherever the engine must pick one
// replica among equals.
type NodeID string

// ReplicaRole is the configuration role a replica holds in one epoch.
type ReplicaRole int

const (
	// RoleNone means the replica is not part of the configuration.
	RoleNone ReplicaRole = iota

	// RoleIdle means the replica exists but does not count toward quorum.
	RoleIdle

	// RoleSecondary is an active, quorum-counting secondary.
	RoleSecondary

	// RolePrimary is the single write-accepting replica.
	RolePrimary
)

func (r ReplicaRole) String() string {
	switch r {
	case RoleNone:
		return "None"
	case RoleIdle:
		return "Idle"
	case RoleSecondary:
		return "Secondary"
	case RolePrimary:
		return "Primary"
	default:
		return fmt.Sprintf("ReplicaRole(%d)", int(r))
	}
}

// InConfiguration reports whether the role counts toward quorum.
func (r ReplicaRole) InConfiguration() bool {
	return r == RoleSecondary || r == RolePrimary
}

// ReplicaState is the build lifecycle state of a replica.
type ReplicaState int

const (
	// ReplicaStateInBuild indicates the replica is being created or copied.
	ReplicaStateInBuild ReplicaState = iota

	// ReplicaStateReady indicates the replica is built and serving its role.
	ReplicaStateReady

	// ReplicaStateStandBy indicates a persisted replica outside the configuration
	// that can be rebuilt cheaper than a new one.
	ReplicaStateStandBy

	// ReplicaStateDropped indicates the replica was removed from its host.
	ReplicaStateDropped
)

func (s ReplicaState) String() string {
	switch s {
	case ReplicaStateInBuild:
		return "InBuild"
	case ReplicaStateReady:
		return "Ready"
	case ReplicaStateStandBy:
		return "StandBy"
	case ReplicaStateDropped:
		return "Dropped"
	default:
		return fmt.Sprintf("ReplicaState(%d)", int(s))
	}
}

// PersistenceState tells the owner of a FailoverUnit whether it must be written back.
type PersistenceState int

const (
	// PersistenceNoChange means nothing needs to be written.
	PersistenceNoChange PersistenceState = iota

	// PersistenceInsert means the unit is new and must be inserted.
	PersistenceInsert

	// PersistenceUpdate means an existing unit was mutated.
	PersistenceUpdate

	// PersistenceDelete means the unit must be removed from storage.
	PersistenceDelete
)

func (p PersistenceState) String() string {
	switch p {
	case PersistenceNoChange:
		return "NoChange"
	case PersistenceInsert:
		return "Insert"
	case PersistenceUpdate:
		return "Update"
	case PersistenceDelete:
		return "Delete"
	default:
		return fmt.Sprintf("PersistenceState(%d)", int(p))
	}
}

// Epoch versions a role assignment. Epochs compare lexicographically:
// DataLossVersion first, then ConfigurationVersion.
type Epoch struct {
	DataLossVersion      int64
	ConfigurationVersion int64
}

// Compare returns -1, 0 or +1 depending on whether e is less than, equal to or greater than other.
func (e Epoch) Compare(other Epoch) int {
	switch {
	case e.DataLossVersion < other.DataLossVersion:
		return -1
	case e.DataLossVersion > other.DataLossVersion:
		return 1
	case e.ConfigurationVersion < other.ConfigurationVersion:
		return -1
	case e.ConfigurationVersion > other.ConfigurationVersion:
		return 1
	default:
		return 0
	}
}

// Less reports whether e orders before other.
func (e Epoch) Less(other Epoch) bool {
	return e.Compare(other) < 0
}

// Next returns the epoch of a regular reconfiguration following e.
func (e Epoch) Next() Epoch {
	return Epoch{DataLossVersion: e.DataLossVersion, ConfigurationVersion: e.ConfigurationVersion + 1}
}

// NextDataLoss returns the epoch of a data-loss reconfiguration following e.
func (e Epoch) NextDataLoss() Epoch {
	return Epoch{DataLossVersion: e.DataLossVersion + 1, ConfigurationVersion: e.ConfigurationVersion + 1}
}

func (e Epoch) String() string {
	return fmt.Sprintf("%d:%d", e.DataLossVersion, e.ConfigurationVersion)
}

// ReplicaID identifies one incarnation of a replica. InstanceID only grows for a node,
// so a message carrying an older instance refers to a replica that no longer exists.
type ReplicaID struct {
	NodeID     NodeID
	InstanceID int64
}

func (id ReplicaID) String() string {
	return fmt.Sprintf("%s/%d", id.NodeID, id.InstanceID)
}

// Replica is the replication state of one FailoverUnit on one node.
type Replica struct {
	// NodeID is the node hosting the replica. Unique within a FailoverUnit.
	NodeID NodeID

	// InstanceID identifies this incarnation on the node.
	InstanceID int64

	// PreviousConfigurationRole is the role in the last committed configuration.
	PreviousConfigurationRole ReplicaRole

	// CurrentConfigurationRole is the role in the current (possibly in-flight) configuration.
	CurrentConfigurationRole ReplicaRole

	// State is the build lifecycle state.
	State ReplicaState

	// IsUp is independent of State: a Ready replica can be down.
	IsUp bool

	// ToBeDropped marks a replica that should be removed once it has no role obligation.
	ToBeDropped bool

	// ToBePromoted marks the preferred next primary. At most one replica carries it.
	ToBePromoted bool

	// PendingRemove is set while a Remove or Delete request is outstanding.
	PendingRemove bool

	// IsDeleted is set once the host confirmed the replica was deleted.
	IsDeleted bool

	// IsCreating is set while an Add request is outstanding.
	IsCreating bool

	// PreferredPrimary is a placement hint from the upgrade orchestrator. Opaque to the engine.
	PreferredPrimary bool

	// PackageVersionInstance is the code package the replica runs. Opaque to the engine.
	PackageVersionInstance string

	// LastSequenceNumber is the last acknowledged log sequence number.
	LastSequenceNumber int64

	// LastUpdated is when the replica last changed state.
	LastUpdated time.Time
}

// ID returns the replica identity.
func (r *Replica) ID() ReplicaID {
	return ReplicaID{NodeID: r.NodeID, InstanceID: r.InstanceID}
}

// IsDropped reports whether the replica no longer exists on its host.
func (r *Replica) IsDropped() bool {
	return r.State == ReplicaStateDropped
}

// IsReady reports whether the replica is Ready.
func (r *Replica) IsReady() bool {
	return r.State == ReplicaStateReady
}

// IsStandBy reports whether the replica is StandBy.
func (r *Replica) IsStandBy() bool {
	return r.State == ReplicaStateStandBy
}

// IsInBuild reports whether the replica is InBuild.
func (r *Replica) IsInBuild() bool {
	return r.State == ReplicaStateInBuild
}

// IsPrimary reports whether the replica is the primary of the current configuration.
func (r *Replica) IsPrimary() bool {
	return r.CurrentConfigurationRole == RolePrimary
}

// IsInCurrentConfiguration reports whether the replica counts toward the current quorum.
func (r *Replica) IsInCurrentConfiguration() bool {
	return r.CurrentConfigurationRole.InConfiguration()
}

// IsInPreviousConfiguration reports whether the replica counted toward the previous quorum.
func (r *Replica) IsInPreviousConfiguration() bool {
	return r.PreviousConfigurationRole.InConfiguration()
}

// FailoverUnit is the replica set of one partition.
type FailoverUnit struct {
	// ID is the unique identifier of the unit (UUID).
	ID string

	// ServiceName is the service the partition belongs to.
	ServiceName string

	// IsStateful selects the stateful or stateless task list.
	IsStateful bool

	// TargetReplicaSetSize is the desired number of replicas.
	TargetReplicaSetSize int

	// MinReplicaSetSize is the quorum floor for stateful units.
	MinReplicaSetSize int

	// PreviousConfigurationEpoch is the epoch of the last committed configuration.
	PreviousConfigurationEpoch Epoch

	// CurrentConfigurationEpoch is the epoch of the current configuration.
	CurrentConfigurationEpoch Epoch

	// Replicas is the replica collection, unique by NodeID.
	Replicas []Replica

	// IsToBeDeleted is set when the service was deleted.
	IsToBeDeleted bool

	// IsOrphaned is set when the owning service no longer exists.
	IsOrphaned bool

	// IsDeleted is set once DeleteService was emitted. Deleted units never produce actions.
	IsDeleted bool

	// PersistenceState drives whether the caller must persist the unit.
	PersistenceState PersistenceState

	// NextInstanceID is the instance assigned to the next replica incarnation.
	NextInstanceID int64

	// QuorumLostAt is when quorum loss was first observed. Zero while quorum holds.
	QuorumLostAt time.Time

	// ReconfigurationStartedAt is when the pending DoReconfiguration was last sent.
	ReconfigurationStartedAt time.Time

	// Version is the optimistic concurrency token maintained by the store.
	Version int64

	// LastUpdated is when the unit was last mutated.
	LastUpdated time.Time
}
