package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/signalsfoundry/manet-simulator/internal/config"
	"github.com/signalsfoundry/manet-simulator/internal/sim"
	"github.com/signalsfoundry/manet-simulator/model"
)

func openTemp(t *testing.T) *Recorder {
	t.Helper()
	rec, err := Open(filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

func sampleFrame(tick int) model.Frame {
	return model.Frame{
		Tick: tick,
		Nodes: []model.NodeView{
			{ID: "1", X: 10.5, Y: 20.25, Direction: 1.5, Speed: 0.3, Moving: true, Paused: true, RemainingTime: 4, Class: model.NodeClassMoving2},
			{ID: "0", X: 11, Y: 21, Direction: 0.1, Speed: 0.7, Moving: true, RemainingTime: -1, Class: model.NodeClassMoving},
			{ID: "downleft", Class: model.NodeClassGrid},
		},
		Edges: []model.Edge{{A: "0", B: "1"}},
	}
}

func TestPublishBeforeBeginRunFails(t *testing.T) {
	rec := openTemp(t)
	if err := rec.Publish(context.Background(), sampleFrame(0)); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("Publish error = %v, want ErrNoActiveRun", err)
	}
	if err := rec.FinishRun(context.Background(), 0); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("FinishRun error = %v, want ErrNoActiveRun", err)
	}
}

func TestRecordAndReloadFrames(t *testing.T) {
	rec := openTemp(t)
	ctx := context.Background()

	seed := uint64(1<<63 + 5) // above int64 range
	if err := rec.BeginRun(ctx, RunInfo{ID: "run-1", Seed: seed, MaxX: 200, MaxY: 100, Range: 150, NodeCount: 3}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	for tick := 0; tick < 3; tick++ {
		if err := rec.Publish(ctx, sampleFrame(tick)); err != nil {
			t.Fatalf("Publish(%d): %v", tick, err)
		}
	}
	if err := rec.FinishRun(ctx, 2); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := rec.Frame(ctx, "run-1", 1)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if want := sampleFrame(1); !reflect.DeepEqual(got, want) {
		t.Fatalf("Frame = %+v, want %+v", got, want)
	}

	runs, err := rec.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Runs len = %d, want 1", len(runs))
	}
	if runs[0].Seed != seed || runs[0].Ticks != 2 || runs[0].FinishedAt == nil {
		t.Fatalf("run = %+v", runs[0])
	}
}

func TestFrameNotFound(t *testing.T) {
	rec := openTemp(t)
	if _, err := rec.Frame(context.Background(), "nope", 0); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Frame error = %v, want ErrRunNotFound", err)
	}
	if _, err := rec.Run(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Run error = %v, want ErrRunNotFound", err)
	}
}

func TestDuplicateRunIDRejected(t *testing.T) {
	rec := openTemp(t)
	ctx := context.Background()
	info := RunInfo{ID: "dup", MaxX: 1, MaxY: 1, Range: 1, NodeCount: 1}
	if err := rec.BeginRun(ctx, info); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := rec.BeginRun(ctx, info); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
}

func TestRecorderAsSimulationSink(t *testing.T) {
	rec := openTemp(t)
	ctx := context.Background()

	seed := uint64(21)
	cfg := config.Default()
	cfg.Simulation.MaxX, cfg.Simulation.MaxY = 300, 300
	cfg.Simulation.Nodes = 10
	cfg.Simulation.Ticks = 8
	cfg.Simulation.Seed = &seed

	var last model.Frame
	tap := sim.FuncSink{SinkName: "tap", Fn: func(_ context.Context, f model.Frame) error {
		last = f
		return nil
	}}
	runner, err := sim.NewRunner(cfg, sim.WithSinks(rec, tap))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := rec.BeginRun(ctx, RunInfo{ID: "sim", Seed: seed, MaxX: 300, MaxY: 300, Range: 150, NodeCount: runner.State().Len()}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	sum, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := rec.FinishRun(ctx, sum.Ticks); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := rec.Frame(ctx, "sim", 8)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if !reflect.DeepEqual(got, last) {
		t.Fatalf("recorded final frame differs from published frame")
	}
}
