package model

// NodeClass is the display tag handed to renderers. It has no simulation
// meaning.
type NodeClass string

const (
	NodeClassGrid    NodeClass = "grid" // fixed corner anchors
	NodeClassMoving  NodeClass = "moving"
	NodeClassMoving2 NodeClass = "moving2"
	NodeClassMoving3 NodeClass = "moving3"
)

// MobileClasses lists the display tags assigned at random to mobile nodes.
var MobileClasses = []NodeClass{NodeClassMoving, NodeClassMoving2, NodeClassMoving3}

// Position is a point in the simulation plane, in simulation units.
type Position struct {
	X float64
	Y float64
}

// Node is a simulated mobile (or anchored) network endpoint.
//
// ID is assigned at creation and never changes. Position, Direction, Paused
// and RemainingTime are mutated only by the mobility engine.
type Node struct {
	ID       string
	Position Position

	// Direction is the heading in radians, in [0, 2π).
	Direction float64
	// Speed is drawn once at creation, in [0, 1).
	Speed float64

	// Moving is false for anchor nodes that never move and never get edges.
	Moving bool
	Paused bool

	// RemainingTime counts ticks until the next pause/move transition.
	RemainingTime int

	Class NodeClass
}

// View returns the renderer-facing projection of the node.
func (n *Node) View() NodeView {
	return NodeView{
		ID:            n.ID,
		X:             n.Position.X,
		Y:             n.Position.Y,
		Direction:     n.Direction,
		Speed:         n.Speed,
		Moving:        n.Moving,
		Paused:        n.Paused,
		RemainingTime: n.RemainingTime,
		Class:         n.Class,
	}
}

// NodeView is an immutable copy of a node's state at one observation point.
type NodeView struct {
	ID            string    `json:"id"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Direction     float64   `json:"direction"`
	Speed         float64   `json:"speed"`
	Moving        bool      `json:"moving"`
	Paused        bool      `json:"paused"`
	RemainingTime int       `json:"remaining_time"`
	Class         NodeClass `json:"class"`
}
