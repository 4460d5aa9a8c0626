package failover

import "fmt"

// ActionKind enumerates the commands the engine produces.
type ActionKind int

const (
	// ActionAddPrimary creates the first replica of a stateful unit as primary.
	ActionAddPrimary ActionKind = iota

	// ActionAddReplica asks the primary to build a stateful replica on a node.
	ActionAddReplica

	// ActionAddInstance creates a stateless instance on a node.
	ActionAddInstance

	// ActionRemoveReplica asks a host to close a stateful replica.
	ActionRemoveReplica

	// ActionRemoveInstance asks a host to close a stateless instance.
	ActionRemoveInstance

	// ActionDeleteReplica asks a host to delete a stateful replica and its state.
	ActionDeleteReplica

	// ActionDeleteInstance asks a host to delete a stateless instance.
	ActionDeleteInstance

	// ActionDoReconfiguration sends a new role assignment to the incoming primary.
	ActionDoReconfiguration

	// ActionDeleteService reports that every replica is gone and the unit can be dropped.
	ActionDeleteService

	// ActionQuorumLost is a health signal, not a wire message.
	ActionQuorumLost

	// ActionDataLoss is a health signal naming the replica recovery proceeds from.
	ActionDataLoss

	// ActionChangeConfigurationReply answers a ChangeConfiguration request.
	ActionChangeConfigurationReply
)

var actionKindNames = map[ActionKind]string{
	ActionAddPrimary:               "AddPrimary",
	ActionAddReplica:               "AddReplica",
	ActionAddInstance:              "AddInstance",
	ActionRemoveReplica:            "RemoveReplica",
	ActionRemoveInstance:           "RemoveInstance",
	ActionDeleteReplica:            "DeleteReplica",
	ActionDeleteInstance:           "DeleteInstance",
	ActionDoReconfiguration:        "DoReconfiguration",
	ActionDeleteService:            "DeleteService",
	ActionQuorumLost:               "QuorumLost",
	ActionDataLoss:                 "DataLoss",
	ActionChangeConfigurationReply: "ChangeConfigurationReply",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// IsHealthSignal reports whether the action is consumed by health reporting rather than sent to a node.
func (k ActionKind) IsHealthSignal() bool {
	return k == ActionQuorumLost || k == ActionDataLoss
}

// RoleAssignment is the role of one replica in a DoReconfiguration.
type RoleAssignment struct {
	Replica      ReplicaID
	PreviousRole ReplicaRole
	CurrentRole  ReplicaRole
	State        ReplicaState
}

// Action is one command produced by a pipeline pass. Pure data.
type Action struct {
	// Kind selects the command.
	Kind ActionKind

	// FailoverUnitID is the unit the action belongs to.
	FailoverUnitID string

	// NodeID is the node the action must be delivered to. Empty for health signals and DeleteService.
	NodeID NodeID

	// Replica is the replica the action concerns. For DataLoss it is the surviving replica.
	Replica ReplicaID

	// PreviousEpoch and CurrentEpoch are set on DoReconfiguration.
	PreviousEpoch Epoch
	CurrentEpoch  Epoch

	// Roles is the full role assignment for every replica still present (DoReconfiguration only).
	Roles []RoleAssignment

	// Error is the result carried by ChangeConfigurationReply.
	Error error
}

func (a Action) String() string {
	switch a.Kind {
	case ActionDoReconfiguration:
		return fmt.Sprintf("%s(%s, %s->%s, %d roles)", a.Kind, a.NodeID, a.PreviousEpoch, a.CurrentEpoch, len(a.Roles))
	case ActionDeleteService, ActionQuorumLost:
		return fmt.Sprintf("%s(%s)", a.Kind, a.FailoverUnitID)
	default:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Replica)
	}
}
