package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/model"
)

const (
	// DefaultUnitStep is the distance covered in one tick at speed 0.5.
	DefaultUnitStep = 3.0
	// DefaultMovePhaseMax bounds the length of a move phase, exclusive.
	DefaultMovePhaseMax = 60
	// DefaultPausePhaseMax bounds the length of a pause phase, exclusive.
	// It also bounds the initial countdown of freshly created nodes.
	DefaultPausePhaseMax = 20
	// DefaultMaxRetries caps boundary rejection sampling per node per tick.
	DefaultMaxRetries = 1000
)

// MobilityEngine advances nodes under a pause/move cycle with direction
// persistence and boundary rejection sampling.
//
// All randomness comes from a single seeded source, so two engines built with
// the same seed and driven over identical states produce identical runs.
type MobilityEngine struct {
	UnitStep      float64
	MovePhaseMax  int
	PausePhaseMax int
	MaxRetries    int

	rng *rand.Rand
	log logging.Logger
}

// StepReport summarises one StepAll pass.
type StepReport struct {
	Stepped int
	Moved   int
	Paused  int
	Stuck   int
}

// NewMobilityEngine constructs an engine with default parameters and a PCG
// source seeded from seed.
func NewMobilityEngine(seed uint64, log logging.Logger) *MobilityEngine {
	if log == nil {
		log = logging.Noop()
	}
	return &MobilityEngine{
		UnitStep:      DefaultUnitStep,
		MovePhaseMax:  DefaultMovePhaseMax,
		PausePhaseMax: DefaultPausePhaseMax,
		MaxRetries:    DefaultMaxRetries,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:           log,
	}
}

// Populate creates count mobile nodes with IDs "0".."count-1", random
// positions inside the area, random heading, speed and initial countdown.
func (e *MobilityEngine) Populate(st *SimulationState, count int) error {
	b := st.Bounds()
	for i := 0; i < count; i++ {
		n := &model.Node{
			ID: strconv.Itoa(i),
			Position: model.Position{
				X: e.rng.Float64() * b.MaxX,
				Y: e.rng.Float64() * b.MaxY,
			},
			Direction:     e.randomDirection(),
			RemainingTime: e.rng.IntN(e.pausePhaseMax()),
			Moving:        true,
			Speed:         e.rng.Float64(),
			Class:         model.MobileClasses[e.rng.IntN(len(model.MobileClasses))],
		}
		if err := st.AddNode(n); err != nil {
			return fmt.Errorf("populate node %d: %w", i, err)
		}
	}
	return nil
}

// AddCornerAnchors adds four fixed nodes on the corners of the area. They pin
// renderer auto-zoom and take no part in mobility or connectivity.
func AddCornerAnchors(st *SimulationState) error {
	b := st.Bounds()
	anchors := []struct {
		id   string
		x, y float64
	}{
		{"upright", b.MaxX, b.MaxY},
		{"upleft", 0, b.MaxY},
		{"downright", b.MaxX, 0},
		{"downleft", 0, 0},
	}
	for _, a := range anchors {
		err := st.AddNode(&model.Node{
			ID:       a.id,
			Position: model.Position{X: a.x, Y: a.y},
			Moving:   false,
			Class:    model.NodeClassGrid,
		})
		if err != nil {
			return fmt.Errorf("add anchor %s: %w", a.id, err)
		}
	}
	return nil
}

// Step advances n by one tick. Anchors (Moving == false) are left untouched.
//
// When no in-bounds move is found within MaxRetries resamples, Step keeps the
// node in place, still decrements its countdown, and returns an error
// wrapping ErrMobilityStuck.
func (e *MobilityEngine) Step(ctx context.Context, st *SimulationState, n *model.Node) error {
	if n == nil || !n.Moving {
		return nil
	}

	if n.RemainingTime <= 0 {
		if n.Paused {
			n.Paused = false
			n.RemainingTime = e.rng.IntN(e.movePhaseMax())
		} else {
			n.Paused = true
			n.RemainingTime = e.rng.IntN(e.pausePhaseMax())
		}
		n.Direction = e.randomDirection()
	}

	var err error
	if !n.Paused {
		err = e.translate(st.Bounds(), n)
		if err != nil {
			e.log.Warn(ctx, "mobility stuck; skipping movement this tick",
				logging.String("node_id", n.ID),
				logging.Float64("x", n.Position.X),
				logging.Float64("y", n.Position.Y),
				logging.Float64("speed", n.Speed),
				logging.Int("retries", e.maxRetries()),
			)
		}
	}

	n.RemainingTime--
	return err
}

// StepAll steps every node of st in creation order. Stuck nodes are counted
// in the report and do not abort the tick; only context cancellation does.
func (e *MobilityEngine) StepAll(ctx context.Context, st *SimulationState) (StepReport, error) {
	var rep StepReport
	for _, n := range st.Nodes() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !n.Moving {
			continue
		}
		before := n.Position
		if err := e.Step(ctx, st, n); err != nil {
			rep.Stuck++
		}
		rep.Stepped++
		if n.Paused {
			rep.Paused++
		}
		if n.Position != before {
			rep.Moved++
		}
	}
	return rep, nil
}

// translate applies one displacement along the node's heading, resampling the
// heading while the candidate falls outside b.
func (e *MobilityEngine) translate(b Bounds, n *model.Node) error {
	step := e.unitStep() * n.Speed * 2
	for attempt := 0; attempt < e.maxRetries(); attempt++ {
		next := model.Position{
			X: n.Position.X + math.Cos(n.Direction)*step,
			Y: n.Position.Y + math.Sin(n.Direction)*step,
		}
		if b.Contains(next) {
			n.Position = next
			return nil
		}
		n.Direction = e.randomDirection()
	}
	return fmt.Errorf("node %q: %w", n.ID, ErrMobilityStuck)
}

func (e *MobilityEngine) randomDirection() float64 {
	return e.rng.Float64() * 2 * math.Pi
}

func (e *MobilityEngine) unitStep() float64 {
	if e.UnitStep < 0 {
		return DefaultUnitStep
	}
	return e.UnitStep
}

func (e *MobilityEngine) movePhaseMax() int {
	if e.MovePhaseMax <= 0 {
		return DefaultMovePhaseMax
	}
	return e.MovePhaseMax
}

func (e *MobilityEngine) pausePhaseMax() int {
	if e.PausePhaseMax <= 0 {
		return DefaultPausePhaseMax
	}
	return e.PausePhaseMax
}

func (e *MobilityEngine) maxRetries() int {
	if e.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return e.MaxRetries
}
