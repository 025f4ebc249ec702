package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many ticker tasks run at once. One gate serves one
// run and is injected into it, so concurrent runs never share or
// starve each other's slots.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
}

// NewGate creates a gate admitting at most n concurrent holders.
// Values below one are clamped to one.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), limit: n}
}

// Acquire blocks until a slot frees or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees the slot taken by a successful Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Limit reports the configured concurrency bound.
func (g *Gate) Limit() int { return g.limit }
