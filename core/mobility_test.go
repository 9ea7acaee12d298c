package core

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/signalsfoundry/manet-simulator/model"
)

func newTestState(t *testing.T, maxX, maxY float64) *SimulationState {
	t.Helper()
	st, err := NewSimulationState(Bounds{MaxX: maxX, MaxY: maxY})
	if err != nil {
		t.Fatalf("NewSimulationState: %v", err)
	}
	return st
}

func addNode(t *testing.T, st *SimulationState, n *model.Node) *model.Node {
	t.Helper()
	if err := st.AddNode(n); err != nil {
		t.Fatalf("AddNode(%s): %v", n.ID, err)
	}
	return n
}

func TestStep_AnchorIsUntouched(t *testing.T) {
	st := newTestState(t, 200, 200)
	anchor := addNode(t, st, &model.Node{ID: "a", Position: model.Position{X: 10, Y: 10}, Speed: 0.9, RemainingTime: 0})
	e := NewMobilityEngine(1, nil)

	for i := 0; i < 50; i++ {
		if err := e.Step(context.Background(), st, anchor); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if anchor.Position != (model.Position{X: 10, Y: 10}) || anchor.RemainingTime != 0 || anchor.Paused {
		t.Fatalf("anchor changed: %+v", anchor)
	}
}

func TestStep_PausedNodeKeepsPositionAndCountsDown(t *testing.T) {
	st := newTestState(t, 200, 200)
	n := addNode(t, st, &model.Node{
		ID: "n", Position: model.Position{X: 50, Y: 60}, Speed: 0.8,
		Moving: true, Paused: true, RemainingTime: 5,
	})
	e := NewMobilityEngine(7, nil)

	if err := e.Step(context.Background(), st, n); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if n.Position != (model.Position{X: 50, Y: 60}) {
		t.Fatalf("paused node moved to %+v", n.Position)
	}
	if n.RemainingTime != 4 {
		t.Fatalf("RemainingTime = %d, want 4", n.RemainingTime)
	}
	if !n.Paused {
		t.Fatalf("node left pause before countdown expired")
	}
}

func TestStep_DisplacementFollowsHeading(t *testing.T) {
	st := newTestState(t, 200, 200)
	n := addNode(t, st, &model.Node{
		ID: "n", Position: model.Position{X: 100, Y: 100}, Speed: 0.5,
		Direction: math.Pi / 2, Moving: true, RemainingTime: 10,
	})
	e := NewMobilityEngine(1, nil)

	if err := e.Step(context.Background(), st, n); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// D=3, speed 0.5, factor 2 -> 3 units straight up.
	if math.Abs(n.Position.X-100) > 1e-9 || math.Abs(n.Position.Y-103) > 1e-9 {
		t.Fatalf("position = %+v, want (100, 103)", n.Position)
	}
	if n.Direction != math.Pi/2 {
		t.Fatalf("direction changed mid-phase: %v", n.Direction)
	}
	if n.RemainingTime != 9 {
		t.Fatalf("RemainingTime = %d, want 9", n.RemainingTime)
	}
}

func TestStep_LeavingPauseStartsMovePhase(t *testing.T) {
	e := NewMobilityEngine(3, nil)
	for i := 0; i < 200; i++ {
		st := newTestState(t, 200, 200)
		n := addNode(t, st, &model.Node{
			ID: "n", Position: model.Position{X: 100, Y: 100}, Speed: 0.5,
			Moving: true, Paused: true, RemainingTime: 0,
		})
		if err := e.Step(context.Background(), st, n); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if n.Paused {
			t.Fatalf("node still paused after countdown expired")
		}
		if n.RemainingTime < -1 || n.RemainingTime > DefaultMovePhaseMax-2 {
			t.Fatalf("RemainingTime = %d, want in [-1, %d]", n.RemainingTime, DefaultMovePhaseMax-2)
		}
		if d := Distance(n.Position, model.Position{X: 100, Y: 100}); math.Abs(d-3) > 1e-9 {
			t.Fatalf("moved %v units, want 3", d)
		}
		if n.Direction < 0 || n.Direction >= 2*math.Pi {
			t.Fatalf("direction %v out of [0, 2π)", n.Direction)
		}
	}
}

func TestStep_EnteringPauseStopsMovement(t *testing.T) {
	e := NewMobilityEngine(4, nil)
	for i := 0; i < 200; i++ {
		st := newTestState(t, 200, 200)
		n := addNode(t, st, &model.Node{
			ID: "n", Position: model.Position{X: 100, Y: 100}, Speed: 0.5,
			Moving: true, Paused: false, RemainingTime: -3,
		})
		if err := e.Step(context.Background(), st, n); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !n.Paused {
			t.Fatalf("node did not enter pause")
		}
		if n.Position != (model.Position{X: 100, Y: 100}) {
			t.Fatalf("node moved while entering pause: %+v", n.Position)
		}
		if n.RemainingTime < -1 || n.RemainingTime > DefaultPausePhaseMax-2 {
			t.Fatalf("RemainingTime = %d, want in [-1, %d]", n.RemainingTime, DefaultPausePhaseMax-2)
		}
	}
}

func TestStep_BoundaryRejectionResamplesHeading(t *testing.T) {
	st := newTestState(t, 200, 200)
	// Heading straight out through the right edge.
	n := addNode(t, st, &model.Node{
		ID: "n", Position: model.Position{X: 200, Y: 100}, Speed: 0.9,
		Direction: 0, Moving: true, RemainingTime: 30,
	})
	e := NewMobilityEngine(11, nil)

	if err := e.Step(context.Background(), st, n); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !st.Bounds().Contains(n.Position) {
		t.Fatalf("node left the area: %+v", n.Position)
	}
	if n.Direction == 0 {
		t.Fatalf("heading was not resampled")
	}
	if n.Position == (model.Position{X: 200, Y: 100}) {
		t.Fatalf("node did not move")
	}
}

func TestStep_StuckNodeStaysAndReportsError(t *testing.T) {
	// Every candidate overshoots a 1x1 area.
	st := newTestState(t, 1, 1)
	n := addNode(t, st, &model.Node{
		ID: "n", Position: model.Position{X: 0.5, Y: 0.5}, Speed: 0.99,
		Moving: true, RemainingTime: 10,
	})
	e := NewMobilityEngine(5, nil)
	e.MaxRetries = 25

	err := e.Step(context.Background(), st, n)
	if !errors.Is(err, ErrMobilityStuck) {
		t.Fatalf("Step error = %v, want ErrMobilityStuck", err)
	}
	if n.Position != (model.Position{X: 0.5, Y: 0.5}) {
		t.Fatalf("stuck node moved to %+v", n.Position)
	}
	if n.RemainingTime != 9 {
		t.Fatalf("RemainingTime = %d, want 9", n.RemainingTime)
	}
}

func TestStep_ZeroSpeedOnCornerTerminates(t *testing.T) {
	st := newTestState(t, 200, 200)
	n := addNode(t, st, &model.Node{
		ID: "n", Position: model.Position{X: 0, Y: 0}, Speed: 0,
		Direction: math.Pi, Moving: true, RemainingTime: 10,
	})
	e := NewMobilityEngine(5, nil)

	if err := e.Step(context.Background(), st, n); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if n.Position != (model.Position{X: 0, Y: 0}) {
		t.Fatalf("zero-speed node moved to %+v", n.Position)
	}
}

func TestPopulate(t *testing.T) {
	st := newTestState(t, 1600, 900)
	e := NewMobilityEngine(99, nil)
	if err := e.Populate(st, 100); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if st.Len() != 100 {
		t.Fatalf("Len = %d, want 100", st.Len())
	}
	classes := map[model.NodeClass]bool{}
	for _, c := range model.MobileClasses {
		classes[c] = true
	}
	for _, n := range st.Nodes() {
		if !n.Moving || n.Paused {
			t.Fatalf("node %s: moving=%v paused=%v, want mobile and not paused", n.ID, n.Moving, n.Paused)
		}
		if !st.Bounds().Contains(n.Position) {
			t.Fatalf("node %s out of bounds: %+v", n.ID, n.Position)
		}
		if n.Speed < 0 || n.Speed >= 1 {
			t.Fatalf("node %s speed %v out of [0,1)", n.ID, n.Speed)
		}
		if n.RemainingTime < 0 || n.RemainingTime >= DefaultPausePhaseMax {
			t.Fatalf("node %s countdown %d out of range", n.ID, n.RemainingTime)
		}
		if !classes[n.Class] {
			t.Fatalf("node %s has class %q", n.ID, n.Class)
		}
	}
	if _, err := st.Node("99"); err != nil {
		t.Fatalf("Node(99): %v", err)
	}
}

func TestAddCornerAnchors(t *testing.T) {
	st := newTestState(t, 1600, 900)
	if err := AddCornerAnchors(st); err != nil {
		t.Fatalf("AddCornerAnchors: %v", err)
	}
	seen := map[model.Position]string{}
	for _, n := range st.Nodes() {
		if n.Moving || n.Class != model.NodeClassGrid {
			t.Fatalf("anchor %s: moving=%v class=%q", n.ID, n.Moving, n.Class)
		}
		if other, dup := seen[n.Position]; dup {
			t.Fatalf("anchors %s and %s share corner %+v", n.ID, other, n.Position)
		}
		seen[n.Position] = n.ID
	}
	if len(seen) != 4 {
		t.Fatalf("got %d anchors, want 4", len(seen))
	}
	if err := AddCornerAnchors(st); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("second AddCornerAnchors error = %v, want ErrNodeExists", err)
	}
}

func TestStepAll_BoundaryInvariantHolds(t *testing.T) {
	st := newTestState(t, 300, 200)
	e := NewMobilityEngine(2024, nil)
	if err := e.Populate(st, 60); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := AddCornerAnchors(st); err != nil {
		t.Fatalf("AddCornerAnchors: %v", err)
	}
	anchors := map[string]model.Position{}
	for _, n := range st.Nodes() {
		if !n.Moving {
			anchors[n.ID] = n.Position
		}
	}

	ctx := context.Background()
	for tick := 0; tick < 400; tick++ {
		rep, err := e.StepAll(ctx, st)
		if err != nil {
			t.Fatalf("StepAll: %v", err)
		}
		if rep.Stepped != 60 {
			t.Fatalf("tick %d: stepped %d, want 60", tick, rep.Stepped)
		}
		for _, n := range st.Nodes() {
			if !st.Bounds().Contains(n.Position) {
				t.Fatalf("tick %d: node %s out of bounds at %+v", tick, n.ID, n.Position)
			}
			if want, ok := anchors[n.ID]; ok && n.Position != want {
				t.Fatalf("tick %d: anchor %s moved to %+v", tick, n.ID, n.Position)
			}
		}
	}
}

func TestStepAll_HonoursCancellation(t *testing.T) {
	st := newTestState(t, 200, 200)
	e := NewMobilityEngine(1, nil)
	if err := e.Populate(st, 5); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.StepAll(ctx, st); !errors.Is(err, context.Canceled) {
		t.Fatalf("StepAll error = %v, want context.Canceled", err)
	}
}

func runFrames(t *testing.T, seed uint64, nodes, ticks int) []model.Frame {
	t.Helper()
	st := newTestState(t, 400, 300)
	e := NewMobilityEngine(seed, nil)
	g := NewProximityGraph(DefaultRange)
	if err := e.Populate(st, nodes); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	ctx := context.Background()
	frames := []model.Frame{st.Snapshot()}
	for i := 0; i < ticks; i++ {
		if _, err := e.StepAll(ctx, st); err != nil {
			t.Fatalf("StepAll: %v", err)
		}
		if _, err := g.Refresh(ctx, st); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		st.AdvanceTick()
		frames = append(frames, st.Snapshot())
	}
	return frames
}

func TestDeterministicReplay(t *testing.T) {
	a := runFrames(t, 42, 40, 120)
	b := runFrames(t, 42, 40, 120)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("runs with the same seed diverged")
	}

	c := runFrames(t, 43, 40, 120)
	if reflect.DeepEqual(a, c) {
		t.Fatalf("runs with different seeds produced identical frames")
	}
}
