// Package govern bounds what the engine is allowed to do to a target:
// a global semaphore caps in-flight tool invocations, an optional per-host
// rate limiter paces requests, and a per-host circuit breaker suppresses
// traffic after repeated failures.
package govern

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Governor is the single throttle for the whole run. Every tool
// invocation, including fan-out sub-tasks, acquires a permit first.
type Governor struct {
	sem     *semaphore.Weighted
	permits int64

	perHostRPS float64
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New creates a Governor with the given permit count. perHostRPS of zero
// disables per-host pacing.
func New(permits int, perHostRPS float64) *Governor {
	if permits <= 0 {
		permits = 1
	}
	return &Governor{
		sem:        semaphore.NewWeighted(int64(permits)),
		permits:    int64(permits),
		perHostRPS: perHostRPS,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Permits returns the configured permit count.
func (g *Governor) Permits() int {
	return int(g.permits)
}

// Acquire blocks until a permit is free or ctx is cancelled.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("governor: %w", err)
	}
	return nil
}

// Release returns a permit. Must be called exactly once per successful
// Acquire, on every path including timeout and failure.
func (g *Governor) Release() {
	g.sem.Release(1)
}

// Pace waits until host may be contacted again under the per-host rate
// limit. No-op when pacing is disabled.
func (g *Governor) Pace(ctx context.Context, host string) error {
	if g.perHostRPS <= 0 || host == "" {
		return nil
	}
	g.mu.Lock()
	lim, ok := g.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.perHostRPS), 1)
		g.limiters[host] = lim
	}
	g.mu.Unlock()
	return lim.Wait(ctx)
}
