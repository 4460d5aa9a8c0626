package failover

import "fmt"

// MovementType is the kind of movement the load balancer asks for.
type MovementType int

const (
	// MovementSwapPrimarySecondary swaps the primary with an existing secondary.
	MovementSwapPrimarySecondary MovementType = iota

	// MovementPromoteSecondary names the secondary to prefer at the next primary election.
	MovementPromoteSecondary

	// MovementMovePrimary moves the primary to a node without a replica.
	MovementMovePrimary

	// MovementMoveSecondary moves a secondary from one node to another.
	MovementMoveSecondary
)

func (m MovementType) String() string {
	switch m {
	case MovementSwapPrimarySecondary:
		return "SwapPrimarySecondary"
	case MovementPromoteSecondary:
		return "PromoteSecondary"
	case MovementMovePrimary:
		return "MovePrimary"
	case MovementMoveSecondary:
		return "MoveSecondary"
	default:
		return fmt.Sprintf("MovementType(%d)", int(m))
	}
}

// Movement is one decision handed over by the placement and load-balancing service.
type Movement struct {
	// Type is the movement kind.
	Type MovementType

	// SourceNode is the node the role or replica moves away from.
	SourceNode NodeID

	// TargetNode is the node the role or replica moves to.
	TargetNode NodeID

	// DecisionID correlates the movement with the decision that produced it (UUID).
	DecisionID string
}
