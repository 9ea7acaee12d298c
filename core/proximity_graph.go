package core

import (
	"context"
	"sync"

	"github.com/signalsfoundry/manet-simulator/model"
)

// DefaultRange is the default communication range in simulation units.
const DefaultRange = 150.0

// ProximityGraph keeps the edge set of a SimulationState equal to the range
// predicate: an edge exists between a and b iff both are mobile, a != b and
// their distance is at most Range.
type ProximityGraph struct {
	Range float64

	// Workers > 1 fans the read-only distance scan out over goroutines.
	// Edge writes are always applied by the calling goroutine.
	Workers int
}

// RefreshReport summarises one Refresh pass.
type RefreshReport struct {
	Added   int
	Removed int
	Edges   int
}

// NewProximityGraph constructs a graph maintainer with the given range.
func NewProximityGraph(rangeThreshold float64) *ProximityGraph {
	return &ProximityGraph{Range: rangeThreshold}
}

type pairDecision struct {
	a, b    string
	inRange bool
}

// Refresh re-evaluates every mobile pair against the range threshold and
// patches the edge set in place. It is idempotent: a second call without an
// intervening mobility step changes nothing.
func (g *ProximityGraph) Refresh(ctx context.Context, st *SimulationState) (RefreshReport, error) {
	var rep RefreshReport

	mobile := make([]*model.Node, 0, st.Len())
	mobileIDs := make(map[string]struct{}, st.Len())
	for _, n := range st.Nodes() {
		if n.Moving {
			mobile = append(mobile, n)
			mobileIDs[n.ID] = struct{}{}
		}
	}

	edges := st.EdgeSet()

	// Edges whose endpoints are no longer mobile members of the state can
	// never satisfy the predicate.
	for _, e := range edges.Edges() {
		_, okA := mobileIDs[e.A]
		_, okB := mobileIDs[e.B]
		if !okA || !okB {
			if edges.RemoveIfPresent(e.A, e.B) {
				rep.Removed++
			}
		}
	}

	decisions, err := g.scan(ctx, mobile)
	if err != nil {
		return rep, err
	}
	for _, rows := range decisions {
		for _, d := range rows {
			if d.inRange {
				if edges.Add(d.a, d.b) {
					rep.Added++
				}
			} else if edges.RemoveIfPresent(d.a, d.b) {
				rep.Removed++
			}
		}
	}

	rep.Edges = edges.Len()
	return rep, nil
}

// scan computes range decisions for every unordered pair (i < j). Row i of
// the result holds the decisions for node i against all later nodes, so the
// apply order is independent of the worker count.
func (g *ProximityGraph) scan(ctx context.Context, mobile []*model.Node) ([][]pairDecision, error) {
	rows := make([][]pairDecision, len(mobile))
	r := g.rangeThreshold()

	evalRow := func(i int) {
		n1 := mobile[i]
		row := make([]pairDecision, 0, len(mobile)-i-1)
		for j := i + 1; j < len(mobile); j++ {
			n2 := mobile[j]
			row = append(row, pairDecision{
				a:       n1.ID,
				b:       n2.ID,
				inRange: Distance(n1.Position, n2.Position) <= r,
			})
		}
		rows[i] = row
	}

	workers := g.Workers
	if workers <= 1 || len(mobile) < 2 {
		for i := range mobile {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			evalRow(i)
		}
		return rows, nil
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				evalRow(i)
			}
		}()
	}

	var err error
feed:
	for i := range mobile {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (g *ProximityGraph) rangeThreshold() float64 {
	if g.Range <= 0 {
		return DefaultRange
	}
	return g.Range
}

// BruteForceEdges computes the edge set implied by the range predicate from
// scratch, independent of any maintained state. It is used to audit Refresh.
func BruteForceEdges(nodes []*model.Node, rangeThreshold float64) map[model.Edge]struct{} {
	out := make(map[model.Edge]struct{})
	for _, n1 := range nodes {
		if !n1.Moving {
			continue
		}
		for _, n2 := range nodes {
			if n1.ID == n2.ID || !n2.Moving {
				continue
			}
			if Distance(n1.Position, n2.Position) <= rangeThreshold {
				out[model.NewEdge(n1.ID, n2.ID)] = struct{}{}
			}
		}
	}
	return out
}
