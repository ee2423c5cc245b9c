package ingest

import (
	"context"
	"sync"
	"time"
)

// rateGate enforces a global minimum spacing between outbound feed calls.
// It hands out send slots in FIFO order across all workers: each caller
// reserves the next slot under the lock, then sleeps outside it, so slot
// reservation never blocks other workers.
type rateGate struct {
	mu      sync.Mutex
	spacing time.Duration
	next    time.Time
}

func newRateGate(spacing time.Duration) *rateGate {
	return &rateGate{spacing: spacing}
}

// wait blocks until the caller's reserved slot arrives or ctx is done.
func (g *rateGate) wait(ctx context.Context) error {
	if g.spacing <= 0 {
		return ctx.Err()
	}

	g.mu.Lock()
	now := time.Now()
	if g.next.Before(now) {
		g.next = now
	}
	delay := g.next.Sub(now)
	g.next = g.next.Add(g.spacing)
	g.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
