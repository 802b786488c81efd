package inventory

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate serializes every stock mutation in the process. It is a single
// permit, not striped per product or warehouse, so transfers never need a
// lock order. Acquisition order is not FIFO.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Enter blocks until the gate is free or ctx is done. The returned release
// func must be called exactly once. waited reports time spent queued.
func (g *Gate) Enter(ctx context.Context) (release func(), waited time.Duration, err error) {
	start := time.Now()
	// Acquire may succeed on a done context when the permit is free.
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, time.Since(start), err
	}
	return func() { g.sem.Release(1) }, time.Since(start), nil
}
