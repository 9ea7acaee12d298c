// Package sim drives a simulation run: it owns the SimulationState, steps
// every node, refreshes the proximity graph and hands one frame per tick to
// the registered sinks.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/manet-simulator/core"
	"github.com/signalsfoundry/manet-simulator/internal/config"
	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/internal/observability"
	"github.com/signalsfoundry/manet-simulator/model"
	"github.com/signalsfoundry/manet-simulator/timectrl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEdgeAudit is returned when the maintained edge set disagrees with a
// brute-force recomputation. It indicates a bug, never a user error.
var ErrEdgeAudit = errors.New("edge set audit failed")

// TickObserver receives per-tick statistics. *observability.SimCollector
// satisfies it.
type TickObserver interface {
	ObserveTick(observability.TickStats)
	FrameDropped(sink string)
}

// Runner wires the mobility engine, proximity graph and tick clock around a
// single SimulationState.
type Runner struct {
	cfg   *config.Config
	seed  uint64
	state *core.SimulationState

	engine *core.MobilityEngine
	graph  *core.ProximityGraph
	clock  *timectrl.TimeController

	sinks   []FrameSink
	metrics TickObserver
	log     logging.Logger

	stuck int
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Seed       uint64
	Ticks      int
	Nodes      int
	Edges      int
	StuckSteps int
	Elapsed    time.Duration
}

// Option customises Runner construction.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches a tick observer.
func WithMetrics(m TickObserver) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithSinks registers frame sinks. Sinks receive frames in registration order.
func WithSinks(sinks ...FrameSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// NewRunner validates cfg, creates the node population and computes the
// initial edge set, so frame 0 already satisfies the range predicate.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}

	s := cfg.Simulation
	if s.Seed != nil {
		r.seed = *s.Seed
	} else {
		r.seed = rand.Uint64()
	}

	state, err := core.NewSimulationState(core.Bounds{MaxX: s.MaxX, MaxY: s.MaxY})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	r.state = state

	r.engine = core.NewMobilityEngine(r.seed, r.log)
	r.engine.UnitStep = s.UnitStep
	r.engine.MovePhaseMax = s.MovePhaseMax
	r.engine.PausePhaseMax = s.PausePhaseMax
	r.engine.MaxRetries = s.MaxRetries

	if err := r.engine.Populate(state, s.Nodes); err != nil {
		return nil, err
	}
	if s.CornerAnchors {
		if err := core.AddCornerAnchors(state); err != nil {
			return nil, err
		}
	}

	r.graph = &core.ProximityGraph{Range: s.Range, Workers: s.ScanWorkers}
	if _, err := r.graph.Refresh(context.Background(), state); err != nil {
		return nil, fmt.Errorf("initial refresh: %w", err)
	}

	mode := timectrl.Accelerated
	if cfg.Clock.RealTime {
		mode = timectrl.RealTime
	}
	r.clock = timectrl.NewTimeController(cfg.Clock.TickInterval, mode)
	r.clock.AddListener(r.tick)

	return r, nil
}

// Seed returns the seed in use; log it to replay a run.
func (r *Runner) Seed() uint64 { return r.seed }

// State exposes the simulation state. It must not be touched while Run is
// in progress.
func (r *Runner) State() *core.SimulationState { return r.state }

// Clock exposes the tick clock.
func (r *Runner) Clock() timectrl.Clock { return r.clock }

// Run publishes frame 0 and then executes the configured number of ticks.
// Cancelling ctx stops the run cleanly between ticks; the partial Summary is
// returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, log := logging.WithRunLogger(ctx, r.log)
	runID := logging.RunIDFromContext(ctx)
	start := time.Now()

	log.Info(ctx, "simulation starting",
		logging.Int("nodes", r.state.Len()),
		logging.Int("ticks", r.cfg.Simulation.Ticks),
		logging.Float64("range", r.cfg.Simulation.Range),
		logging.Any("seed", r.seed),
		logging.String("mode", r.clock.Mode.String()),
	)

	if err := r.publish(ctx, r.state.Snapshot()); err != nil {
		return r.summary(runID, 0, start), err
	}

	completed, err := r.clock.Run(ctx, r.cfg.Simulation.Ticks)
	sum := r.summary(runID, completed, start)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn(ctx, "simulation halted", logging.Int("completed_ticks", completed), logging.Err(err))
		} else {
			log.Error(ctx, "simulation failed", logging.Int("completed_ticks", completed), logging.Err(err))
		}
		return sum, err
	}

	log.Info(ctx, "simulation complete",
		logging.Int("ticks", sum.Ticks),
		logging.Int("edges", sum.Edges),
		logging.Int("stuck_steps", sum.StuckSteps),
		logging.String("elapsed", sum.Elapsed.String()),
	)
	return sum, nil
}

func (r *Runner) summary(runID string, ticks int, start time.Time) Summary {
	return Summary{
		RunID:      runID,
		Seed:       r.seed,
		Ticks:      ticks,
		Nodes:      r.state.Len(),
		Edges:      r.state.EdgeSet().Len(),
		StuckSteps: r.stuck,
		Elapsed:    time.Since(start),
	}
}

// tick is the per-tick clock listener: step all nodes, refresh the graph,
// then publish the frame.
func (r *Runner) tick(ctx context.Context, tick int) error {
	log := logging.LoggerFromContext(ctx, r.log)
	ctx, span := observability.StartTickSpan(ctx, tick)
	defer span.End()

	began := time.Now()
	stepRep, err := r.engine.StepAll(ctx, r.state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step")
		return err
	}
	refreshRep, err := r.graph.Refresh(ctx, r.state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh")
		return err
	}
	r.state.AdvanceTick()
	elapsed := time.Since(began)
	r.stuck += stepRep.Stuck

	if r.cfg.Simulation.Audit {
		if err := r.audit(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "audit")
			return err
		}
	}

	span.SetAttributes(
		attribute.Int("sim.nodes.moved", stepRep.Moved),
		attribute.Int("sim.nodes.paused", stepRep.Paused),
		attribute.Int("sim.nodes.stuck", stepRep.Stuck),
		attribute.Int("sim.edges", refreshRep.Edges),
		attribute.Int("sim.edges.added", refreshRep.Added),
		attribute.Int("sim.edges.removed", refreshRep.Removed),
	)

	if r.metrics != nil {
		r.metrics.ObserveTick(observability.TickStats{
			Duration:     elapsed,
			Mobile:       stepRep.Stepped,
			Paused:       stepRep.Paused,
			Stuck:        stepRep.Stuck,
			EdgesAdded:   refreshRep.Added,
			EdgesRemoved: refreshRep.Removed,
			Edges:        refreshRep.Edges,
		})
	}

	log.Debug(ctx, "tick complete",
		logging.Int("tick", tick),
		logging.Int("moved", stepRep.Moved),
		logging.Int("paused", stepRep.Paused),
		logging.Int("edges", refreshRep.Edges),
		logging.Int("added", refreshRep.Added),
		logging.Int("removed", refreshRep.Removed),
	)

	return r.publish(ctx, r.state.Snapshot())
}

func (r *Runner) audit() error {
	want := core.BruteForceEdges(r.state.Nodes(), r.graph.Range)
	got := r.state.Edges()
	if len(got) != len(want) {
		return fmt.Errorf("%w: tick %d has %d edges, predicate gives %d", ErrEdgeAudit, r.state.Tick(), len(got), len(want))
	}
	for _, e := range got {
		if _, ok := want[e]; !ok {
			return fmt.Errorf("%w: tick %d has unexpected edge %s-%s", ErrEdgeAudit, r.state.Tick(), e.A, e.B)
		}
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, frame model.Frame) error {
	for _, sink := range r.sinks {
		err := sink.Publish(ctx, frame)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrFrameDropped) {
			if r.metrics != nil {
				r.metrics.FrameDropped(sink.Name())
			}
			continue
		}
		return fmt.Errorf("sink %s: %w", sink.Name(), err)
	}
	return nil
}
