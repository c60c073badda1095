package cutotune

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultWarmup     = 5
	DefaultIterations = 10
)

// Synchronizer blocks until all outstanding asynchronous work on the compute
// device has finished.
type Synchronizer interface {
	Synchronize() error
}

// SynchronizerFunc adapts a function to Synchronizer.
type SynchronizerFunc func() error

func (f SynchronizerFunc) Synchronize() error { return f() }

// NoSync is the Synchronizer for fully synchronous candidates.
var NoSync Synchronizer = SynchronizerFunc(func() error { return nil })

// Clock is the time source of the harness.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Harness times one candidate: warmup runs, then a timed loop bracketed by
// device synchronization.
type Harness struct {
	Warmup     int
	Iterations int
	Sync       Synchronizer
	Clock      Clock
}

// DefaultHarness returns a harness with 5 warmup and 10 timed runs.
func DefaultHarness() Harness {
	return Harness{
		Warmup:     DefaultWarmup,
		Iterations: DefaultIterations,
		Sync:       NoSync,
		Clock:      SystemClock,
	}
}

// Run returns the mean duration of one invocation of fn.
func (h Harness) Run(ctx context.Context, fn func(ctx context.Context) error) (time.Duration, error) {
	if h.Iterations < 1 {
		return 0, fmt.Errorf("benchmark: iterations must be positive, got %d", h.Iterations)
	}
	sync := h.Sync
	if sync == nil {
		sync = NoSync
	}
	clock := h.Clock
	if clock == nil {
		clock = SystemClock
	}

	if err := sync.Synchronize(); err != nil {
		return 0, fmt.Errorf("benchmark: synchronize: %w", err)
	}
	for i := range h.Warmup {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := fn(ctx); err != nil {
			return 0, fmt.Errorf("benchmark: warmup run %d: %w", i+1, err)
		}
	}

	if err := sync.Synchronize(); err != nil {
		return 0, fmt.Errorf("benchmark: synchronize: %w", err)
	}
	start := clock.Now()
	for i := range h.Iterations {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := fn(ctx); err != nil {
			return 0, fmt.Errorf("benchmark: timed run %d: %w", i+1, err)
		}
	}
	if err := sync.Synchronize(); err != nil {
		return 0, fmt.Errorf("benchmark: synchronize: %w", err)
	}
	elapsed := clock.Now().Sub(start)

	return elapsed / time.Duration(h.Iterations), nil
}
