package frameserver

import (
	"context"
	"sync"

	"github.com/signalsfoundry/manet-simulator/internal/sim"
	"github.com/signalsfoundry/manet-simulator/model"
)

// DefaultSubscriberBuffer is the per-watcher frame backlog.
const DefaultSubscriberBuffer = 64

// Hub is a FrameSink that keeps the latest frame and fans every frame out
// to watchers. Publish never blocks the simulation loop: a watcher whose
// buffer is full misses the frame.
type Hub struct {
	mu     sync.RWMutex
	latest *model.Frame
	subs   map[int]chan model.Frame
	nextID int
	buffer int
	closed bool
}

// NewHub returns a hub whose watchers buffer up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[int]chan model.Frame),
		buffer: buffer,
	}
}

// Name implements sim.FrameSink.
func (h *Hub) Name() string { return "grpc" }

// Publish stores frame as the latest and offers it to every watcher. It
// returns sim.ErrFrameDropped when at least one watcher was too slow.
func (h *Hub) Publish(_ context.Context, frame model.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	f := frame
	h.latest = &f

	dropped := false
	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			dropped = true
		}
	}
	if dropped {
		return sim.ErrFrameDropped
	}
	return nil
}

// Latest returns the most recent frame, if any.
func (h *Hub) Latest() (model.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return model.Frame{}, false
	}
	return *h.latest, true
}

// Subscribe registers a watcher. The channel is closed when the hub closes or
// the returned cancel function is called.
func (h *Hub) Subscribe() (<-chan model.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan model.Frame, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active watchers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every watch. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
