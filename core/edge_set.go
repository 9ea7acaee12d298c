package core

import (
	"sort"

	"github.com/signalsfoundry/manet-simulator/model"
)

// EdgeSet is an undirected, self-loop free set of proximity edges.
// Insertion and removal are both idempotent.
type EdgeSet struct {
	edges map[model.Edge]struct{}
}

// NewEdgeSet returns an empty set.
func NewEdgeSet() *EdgeSet {
	return &EdgeSet{edges: make(map[model.Edge]struct{})}
}

// Add inserts the edge between a and b. It returns false when the edge was
// already present or when a == b.
func (s *EdgeSet) Add(a, b string) bool {
	if a == b {
		return false
	}
	e := model.NewEdge(a, b)
	if _, ok := s.edges[e]; ok {
		return false
	}
	s.edges[e] = struct{}{}
	return true
}

// RemoveIfPresent deletes the edge between a and b and reports whether it
// existed. A missing edge is not an error.
func (s *EdgeSet) RemoveIfPresent(a, b string) bool {
	e := model.NewEdge(a, b)
	if _, ok := s.edges[e]; !ok {
		return false
	}
	delete(s.edges, e)
	return true
}

// Has reports whether a and b are connected.
func (s *EdgeSet) Has(a, b string) bool {
	_, ok := s.edges[model.NewEdge(a, b)]
	return ok
}

// Len returns the number of edges.
func (s *EdgeSet) Len() int {
	return len(s.edges)
}

// Edges returns the edges sorted by (A, B).
func (s *EdgeSet) Edges() []model.Edge {
	out := make([]model.Edge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Neighbors returns the sorted IDs connected to id.
func (s *EdgeSet) Neighbors(id string) []string {
	var out []string
	for e := range s.edges {
		switch id {
		case e.A:
			out = append(out, e.B)
		case e.B:
			out = append(out, e.A)
		}
	}
	sort.Strings(out)
	return out
}
