package timectrl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock exposes the current simulation tick to components that should not
// depend on the concrete controller.
type Clock interface {
	// Tick returns the number of completed ticks.
	Tick() int
}

// Mode describes how the TimeController paces ticks.
type Mode int

const (
	// RealTime waits Interval of wall-clock time before each tick.
	RealTime Mode = iota
	// Accelerated runs ticks back to back.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "real-time"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// TickFunc runs one tick. tick is 1-based. A non-nil error stops the run.
type TickFunc func(ctx context.Context, tick int) error

// TimeController drives discrete ticks and invokes listeners synchronously,
// in registration order, once per tick. Cancellation is only observed between
// ticks, so a tick is never interrupted half-way.
type TimeController struct {
	mu       sync.RWMutex
	Interval time.Duration
	Mode     Mode

	current   int
	listeners []TickFunc
}

// NewTimeController constructs a controller.
func NewTimeController(interval time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Interval: interval,
		Mode:     mode,
	}
}

// Tick returns the number of completed ticks. Implements Clock.
func (tc *TimeController) Tick() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn TickFunc) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run executes up to ticks ticks (ticks <= 0 runs until ctx is cancelled) and
// returns the number completed. It returns ctx.Err() when cancelled, or the
// first listener error.
func (tc *TimeController) Run(ctx context.Context, ticks int) (int, error) {
	tc.mu.RLock()
	listeners := append([]TickFunc(nil), tc.listeners...)
	mode, interval := tc.Mode, tc.Interval
	tc.mu.RUnlock()

	var pace <-chan time.Time
	if mode == RealTime && interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	completed := 0
	for ticks <= 0 || completed < ticks {
		if pace != nil {
			select {
			case <-ctx.Done():
				return completed, ctx.Err()
			case <-pace:
			}
		} else if err := ctx.Err(); err != nil {
			return completed, err
		}

		tick := completed + 1
		for _, fn := range listeners {
			if err := fn(ctx, tick); err != nil {
				return completed, fmt.Errorf("tick %d: %w", tick, err)
			}
		}
		completed = tick

		tc.mu.Lock()
		tc.current = completed
		tc.mu.Unlock()
	}
	return completed, nil
}

// Result is delivered by Start once the run ends.
type Result struct {
	Completed int
	Err       error
}

// Start runs the controller in a separate goroutine. The returned channel
// receives exactly one Result and is then closed.
func (tc *TimeController) Start(ctx context.Context, ticks int) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		n, err := tc.Run(ctx, ticks)
		done <- Result{Completed: n, Err: err}
	}()
	return done
}
