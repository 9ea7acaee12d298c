package sim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/model"
)

// ErrFrameDropped may be returned by a sink that skipped a frame on purpose
// (for example a slow subscriber). The run continues and the drop is counted.
var ErrFrameDropped = errors.New("frame dropped")

// FrameSink consumes one frame per tick: renderers, exporters, recorders and
// streaming fan-outs all plug in here. Publish is called synchronously from
// the simulation loop, after the edge set has been refreshed.
type FrameSink interface {
	Name() string
	Publish(ctx context.Context, frame model.Frame) error
}

// FuncSink adapts a function to FrameSink.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, frame model.Frame) error
}

func (f FuncSink) Name() string { return f.SinkName }

func (f FuncSink) Publish(ctx context.Context, frame model.Frame) error {
	return f.Fn(ctx, frame)
}

// JSONLinesSink writes every frame as one JSON document per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink writes frames to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Name() string { return "jsonl" }

func (s *JSONLinesSink) Publish(_ context.Context, frame model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(frame)
}

// LogSink emits a one-line summary per frame at debug level.
type LogSink struct {
	Log logging.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Publish(ctx context.Context, frame model.Frame) error {
	if s.Log == nil {
		return nil
	}
	paused := 0
	for _, n := range frame.Nodes {
		if n.Paused {
			paused++
		}
	}
	s.Log.Debug(ctx, "frame",
		logging.Int("tick", frame.Tick),
		logging.Int("nodes", len(frame.Nodes)),
		logging.Int("paused", paused),
		logging.Int("edges", len(frame.Edges)),
	)
	return nil
}
