// Package guard serializes ingestion runs that target the same main table.
//
// A Guard admits one holder at a time. Acquire waits at most the given
// timeout; the returned Permit is released with defer.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when the permit was not obtained in time.
var ErrAcquireTimeout = errors.New("guard: acquire timed out")

// Guard is a mutual-exclusion permit with a bounded wait.
type Guard struct {
	sem *semaphore.Weighted
}

// New returns an unheld Guard.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Permit is one held slot of a Guard.
type Permit struct {
	g    *Guard
	once sync.Once
}

// Acquire waits up to timeout for the guard.
//
// Edge cases:
//   - timeout <= 0 tries once without waiting.
//   - A canceled ctx returns ctx.Err(), not ErrAcquireTimeout.
func (g *Guard) Acquire(ctx context.Context, timeout time.Duration) (*Permit, error) {
	if timeout <= 0 {
		if !g.sem.TryAcquire(1) {
			return nil, ErrAcquireTimeout
		}
		return &Permit{g: g}, nil
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("guard: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, timeout)
	}
	return &Permit{g: g}, nil
}

// Release gives the slot back. Calls after the first are no-ops, and a nil
// Permit is allowed.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.g.sem.Release(1) })
}

var (
	mu     sync.Mutex
	guards = map[string]*Guard{}
)

// For returns the process-wide Guard for key, creating it on first use.
// The ingestor keys guards by the qualified main table name.
func For(key string) *Guard {
	mu.Lock()
	defer mu.Unlock()
	g, ok := guards[key]
	if !ok {
		g = New()
		guards[key] = g
	}
	return g
}
