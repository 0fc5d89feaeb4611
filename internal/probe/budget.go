// Package probe holds the pieces every network probe shares: the process-wide
// socket budget, optional pacing, a budget-aware dialer, and the mapping from
// dial errors to probe outcomes.
package probe

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Budget caps simultaneously open probe sockets across every scan in the
// process and optionally paces how fast new probes start.
type Budget struct {
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	capacity int64
	inUse    atomic.Int64
}

// NewBudget creates a budget of maxSockets slots. probesPerSecond <= 0
// disables pacing.
func NewBudget(maxSockets int, probesPerSecond float64) *Budget {
	if maxSockets <= 0 {
		maxSockets = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if probesPerSecond > 0 {
		burst := int(probesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(probesPerSecond), burst)
	}

	return &Budget{
		sem:      semaphore.NewWeighted(int64(maxSockets)),
		limiter:  limiter,
		capacity: int64(maxSockets),
	}
}

// Acquire blocks until a socket slot is free and the pacer allows another
// probe. The returned func gives the slot back and is safe to call twice.
func (b *Budget) Acquire(ctx context.Context) (func(), error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	b.inUse.Add(1)

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			b.inUse.Add(-1)
			b.sem.Release(1)
		}
	}, nil
}

// Clamp limits n to what the budget can ever grant at once, with a floor of one.
func (b *Budget) Clamp(n int) int {
	if n < 1 {
		return 1
	}
	if int64(n) > b.capacity {
		return int(b.capacity)
	}
	return n
}

// AcquireN reserves n slots at once for an external tool that opens up to n
// sockets of its own, such as an nmap run. n is clamped with Clamp. Pacing
// counts the reservation as one probe start.
func (b *Budget) AcquireN(ctx context.Context, n int) (func(), error) {
	n = b.Clamp(n)
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := b.sem.Acquire(ctx, int64(n)); err != nil {
		return nil, err
	}
	b.inUse.Add(int64(n))

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			b.inUse.Add(-int64(n))
			b.sem.Release(int64(n))
		}
	}, nil
}

// InUse reports how many slots are currently held.
func (b *Budget) InUse() int64 {
	return b.inUse.Load()
}

// Capacity reports the configured slot count.
func (b *Budget) Capacity() int64 {
	return b.capacity
}
