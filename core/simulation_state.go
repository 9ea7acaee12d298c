package core

import (
	"fmt"

	"github.com/signalsfoundry/manet-simulator/model"
)

// SimulationState owns every node and the proximity edge set for one run.
// It is passed explicitly to MobilityEngine and ProximityGraph; nothing in
// the simulator keeps ambient global state.
//
// SimulationState is not safe for concurrent use. The simulation loop is its
// single owner; external readers work on Snapshot copies.
type SimulationState struct {
	bounds Bounds

	// nodes preserves insertion order so that random draws, and therefore
	// replays, are deterministic for a given seed.
	nodes []*model.Node
	index map[string]*model.Node

	edges *EdgeSet
	tick  int
}

// NewSimulationState returns an empty state for the given area.
func NewSimulationState(bounds Bounds) (*SimulationState, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &SimulationState{
		bounds: bounds,
		index:  make(map[string]*model.Node),
		edges:  NewEdgeSet(),
	}, nil
}

// Bounds returns the simulation area.
func (s *SimulationState) Bounds() Bounds {
	return s.bounds
}

// AddNode registers n. The node's ID must be unique and its position must lie
// inside the area.
func (s *SimulationState) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("add node: empty node ID")
	}
	if _, exists := s.index[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	if !s.bounds.Contains(n.Position) {
		return fmt.Errorf("%w: %q at (%g, %g)", ErrNodeOutOfBounds, n.ID, n.Position.X, n.Position.Y)
	}
	s.nodes = append(s.nodes, n)
	s.index[n.ID] = n
	return nil
}

// Node returns the node with the given ID, or ErrNodeNotFound.
func (s *SimulationState) Node(id string) (*model.Node, error) {
	n, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

// Nodes returns the live nodes in creation order. Callers outside the
// simulation loop should use Snapshot instead.
func (s *SimulationState) Nodes() []*model.Node {
	return s.nodes
}

// Len returns the number of nodes.
func (s *SimulationState) Len() int {
	return len(s.nodes)
}

// EdgeSet exposes the edge set owned by the state.
func (s *SimulationState) EdgeSet() *EdgeSet {
	return s.edges
}

// Edges returns the current edges in sorted order.
func (s *SimulationState) Edges() []model.Edge {
	return s.edges.Edges()
}

// HasEdge reports whether a and b are currently connected.
func (s *SimulationState) HasEdge(a, b string) bool {
	return s.edges.Has(a, b)
}

// Tick returns the number of completed ticks.
func (s *SimulationState) Tick() int {
	return s.tick
}

// AdvanceTick marks the current tick as complete.
func (s *SimulationState) AdvanceTick() int {
	s.tick++
	return s.tick
}

// Snapshot returns a deep copy of node state and edges at the current tick.
func (s *SimulationState) Snapshot() model.Frame {
	views := make([]model.NodeView, 0, len(s.nodes))
	for _, n := range s.nodes {
		views = append(views, n.View())
	}
	return model.Frame{
		Tick:  s.tick,
		Nodes: views,
		Edges: s.edges.Edges(),
	}
}
