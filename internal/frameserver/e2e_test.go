package frameserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/manet-simulator/core"
	"github.com/signalsfoundry/manet-simulator/internal/config"
	"github.com/signalsfoundry/manet-simulator/internal/sim"
	"github.com/signalsfoundry/manet-simulator/model"
)

// TestRunnerFramesStreamOverGRPC drives a real simulation into the hub and
// checks every streamed frame against the range predicate.
func TestRunnerFramesStreamOverGRPC(t *testing.T) {
	cfg := config.Default()
	seed := uint64(2024)
	cfg.Simulation.Seed = &seed
	cfg.Simulation.Nodes = 20
	cfg.Simulation.Ticks = 10
	cfg.Simulation.MaxX = 400
	cfg.Simulation.MaxY = 300

	hub := NewHub(0)
	conn := startTestServer(t, hub, nil)
	runner, err := sim.NewRunner(cfg, sim.WithSinks(hub))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stop := errors.New("last frame")
	frames := make(chan model.Frame, cfg.Simulation.Ticks+1)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(conn).WatchFrames(ctx, func(f model.Frame) error {
			frames <- f
			if f.Tick == cfg.Simulation.Ticks {
				return stop
			}
			return nil
		})
	}()
	for hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("watcher never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; !errors.Is(err, stop) {
		t.Fatalf("WatchFrames returned %v", err)
	}
	close(frames)

	next := 0
	for f := range frames {
		if f.Tick != next {
			t.Fatalf("streamed tick %d, want %d", f.Tick, next)
		}
		next++

		nodes := make([]*model.Node, 0, len(f.Nodes))
		for _, v := range f.Nodes {
			nodes = append(nodes, &model.Node{ID: v.ID, Position: model.Position{X: v.X, Y: v.Y}, Moving: v.Moving})
		}
		want := core.BruteForceEdges(nodes, cfg.Simulation.Range)
		if len(want) != len(f.Edges) {
			t.Fatalf("tick %d: %d edges streamed, predicate gives %d", f.Tick, len(f.Edges), len(want))
		}
		for _, e := range f.Edges {
			if _, ok := want[e]; !ok {
				t.Fatalf("tick %d: streamed edge %s-%s is out of range", f.Tick, e.A, e.B)
			}
		}
	}
	if next != cfg.Simulation.Ticks+1 {
		t.Fatalf("received %d frames, want %d", next, cfg.Simulation.Ticks+1)
	}
}
