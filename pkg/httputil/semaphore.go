package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent fire-and-forget work (alert delivery,
// enforcement side effects) so a burst of escalations cannot pile up
// goroutines without limit.
type Semaphore struct {
	slots   chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity (minimum 1).
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 32
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire grabs a slot without blocking. Returns false, and counts the
// drop, when at capacity. Use for work where dropping is acceptable.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks for a slot until the context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must follow a successful acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// Dropped reports how many acquisitions were rejected at capacity.
func (s *Semaphore) Dropped() int64 {
	return s.dropped.Load()
}

// InUse reports the slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}
