package failover

import (
	"sort"
	"time"
)

// NewFailoverUnit creates a unit with no replicas in the Insert persistence state.
func NewFailoverUnit(id, serviceName string, isStateful bool, targetReplicaSetSize, minReplicaSetSize int) *FailoverUnit {
	return &FailoverUnit{
		ID:                   id,
		ServiceName:          serviceName,
		IsStateful:           isStateful,
		TargetReplicaSetSize: targetReplicaSetSize,
		MinReplicaSetSize:    minReplicaSetSize,
		PersistenceState:     PersistenceInsert,
		NextInstanceID:       1,
	}
}

// MarkDirty records that the unit was mutated. Insert and Delete are sticky.
func (ft *FailoverUnit) MarkDirty() {
	if ft.PersistenceState == PersistenceNoChange {
		ft.PersistenceState = PersistenceUpdate
	}
}

// Clone returns a deep copy of the unit.
func (ft *FailoverUnit) Clone() *FailoverUnit {
	clone := *ft
	if ft.Replicas != nil {
		clone.Replicas = make([]Replica, len(ft.Replicas))
		copy(clone.Replicas, ft.Replicas)
	}
	return &clone
}

// Replica returns the replica hosted on nodeID, or nil.
// The pointer is invalidated by CreateReplica and RemoveReplica.
func (ft *FailoverUnit) Replica(nodeID NodeID) *Replica {
	for i := range ft.Replicas {
		if ft.Replicas[i].NodeID == nodeID {
			return &ft.Replicas[i]
		}
	}
	return nil
}

// ReplicaByID returns the replica matching both node and instance.
// Returns ErrReplicaNotFound if the node hosts no replica, ErrStaleMessage if
// the node hosts a different incarnation.
func (ft *FailoverUnit) ReplicaByID(id ReplicaID) (*Replica, error) {
	r := ft.Replica(id.NodeID)
	if r == nil {
		return nil, ErrReplicaNotFound
	}
	if r.InstanceID != id.InstanceID {
		return nil, ErrStaleMessage
	}
	return r, nil
}

// CreateReplica places a new replica incarnation on nodeID and returns it.
// An existing replica on the node is replaced. Replicas stay sorted by NodeID.
func (ft *FailoverUnit) CreateReplica(nodeID NodeID, role ReplicaRole, now time.Time) *Replica {
	if ft.NextInstanceID == 0 {
		ft.NextInstanceID = 1
	}
	replica := Replica{
		NodeID:                    nodeID,
		InstanceID:                ft.NextInstanceID,
		PreviousConfigurationRole: RoleNone,
		CurrentConfigurationRole:  role,
		State:                     ReplicaStateInBuild,
		IsUp:                      true,
		LastUpdated:               now,
	}
	ft.NextInstanceID++
	ft.MarkDirty()

	if existing := ft.Replica(nodeID); existing != nil {
		*existing = replica
		return existing
	}

	idx := sort.Search(len(ft.Replicas), func(i int) bool {
		return ft.Replicas[i].NodeID >= nodeID
	})
	ft.Replicas = append(ft.Replicas, Replica{})
	copy(ft.Replicas[idx+1:], ft.Replicas[idx:])
	ft.Replicas[idx] = replica
	return &ft.Replicas[idx]
}

// Reincarnate gives an existing replica a fresh instance, for example when a StandBy
// replica is rebuilt.
func (ft *FailoverUnit) Reincarnate(r *Replica, now time.Time) {
	if ft.NextInstanceID <= r.InstanceID {
		ft.NextInstanceID = r.InstanceID + 1
	}
	r.InstanceID = ft.NextInstanceID
	ft.NextInstanceID++
	r.LastUpdated = now
	ft.MarkDirty()
}

// RemoveReplica physically removes the replica hosted on nodeID.
func (ft *FailoverUnit) RemoveReplica(nodeID NodeID) bool {
	for i := range ft.Replicas {
		if ft.Replicas[i].NodeID == nodeID {
			ft.Replicas = append(ft.Replicas[:i], ft.Replicas[i+1:]...)
			ft.MarkDirty()
			return true
		}
	}
	return false
}

// Primary returns the primary of the current configuration, or nil.
func (ft *FailoverUnit) Primary() *Replica {
	for i := range ft.Replicas {
		if ft.Replicas[i].IsPrimary() {
			return &ft.Replicas[i]
		}
	}
	return nil
}

// ToBePromotedReplica returns the replica marked ToBePromoted, or nil.
func (ft *FailoverUnit) ToBePromotedReplica() *Replica {
	for i := range ft.Replicas {
		if ft.Replicas[i].ToBePromoted {
			return &ft.Replicas[i]
		}
	}
	return nil
}

// CurrentConfiguration returns the replicas counting toward the current quorum.
func (ft *FailoverUnit) CurrentConfiguration() []*Replica {
	var cc []*Replica
	for i := range ft.Replicas {
		if ft.Replicas[i].IsInCurrentConfiguration() {
			cc = append(cc, &ft.Replicas[i])
		}
	}
	return cc
}

// PreviousConfiguration returns the replicas that counted toward the previous quorum.
func (ft *FailoverUnit) PreviousConfiguration() []*Replica {
	var pc []*Replica
	for i := range ft.Replicas {
		if ft.Replicas[i].IsInPreviousConfiguration() {
			pc = append(pc, &ft.Replicas[i])
		}
	}
	return pc
}

// IsReconfiguring reports whether a configuration change is in flight.
func (ft *FailoverUnit) IsReconfiguring() bool {
	return ft.PreviousConfigurationEpoch != ft.CurrentConfigurationEpoch
}

// QuorumSize is the number of current-configuration replicas that must be up: a
// strict majority of the configuration, counted against MinReplicaSetSize while
// the configuration is smaller than both the target and the minimum.
func (ft *FailoverUnit) QuorumSize() int {
	basis := len(ft.CurrentConfiguration())
	if basis < ft.TargetReplicaSetSize && basis < ft.MinReplicaSetSize {
		basis = ft.MinReplicaSetSize
	}
	return basis/2 + 1
}

// UpCount returns how many of the given replicas are up and not dropped.
func UpCount(replicas []*Replica) int {
	n := 0
	for _, r := range replicas {
		if r.IsUp && !r.IsDropped() {
			n++
		}
	}
	return n
}

// IsQuorumLost reports whether fewer than QuorumSize members of the current
// configuration are up. Stateless units and units without a configuration never
// lose quorum, and neither does a configuration whose members are all up: it is
// still being built toward its minimum.
func (ft *FailoverUnit) IsQuorumLost() bool {
	if !ft.IsStateful {
		return false
	}
	cc := ft.CurrentConfiguration()
	if len(cc) == 0 {
		return false
	}
	up := UpCount(cc)
	if up == len(cc) {
		return false
	}
	return up < ft.QuorumSize()
}

// countsTowardTarget reports whether a replica fills one of the target slots.
func countsTowardTarget(r *Replica) bool {
	return r.IsUp && !r.IsDropped() && !r.IsStandBy() && !r.ToBeDropped
}

// ReplicaDifference is the signed number of replicas to add (positive) or remove
// (negative) to reach the target. It is recomputed on every call.
func (ft *FailoverUnit) ReplicaDifference() int {
	n := 0
	for i := range ft.Replicas {
		if countsTowardTarget(&ft.Replicas[i]) {
			n++
		}
	}
	return ft.TargetReplicaSetSize - n
}

// HasReplicaOn reports whether a live (not dropped) replica exists on nodeID.
func (ft *FailoverUnit) HasReplicaOn(nodeID NodeID) bool {
	r := ft.Replica(nodeID)
	return r != nil && !r.IsDropped()
}
