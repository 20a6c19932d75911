package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyBatches means every batch slot stayed busy for the whole
// queueing window.
var ErrTooManyBatches = errors.New("too many concurrent batches, please try again later")

const (
	// DefaultMaxConcurrentBatches is the number of batches classified at once.
	DefaultMaxConcurrentBatches = 4
	// DefaultBatchWait is how long a batch queues for a slot.
	DefaultBatchWait = 30 * time.Second
)

// BatchLimiter admits a bounded number of batches. Each admitted batch runs
// its own chunk workers, so the slot count caps total classification fan-out.
type BatchLimiter struct {
	slots   *semaphore.Weighted
	size    int64
	queue   time.Duration
	running atomic.Int64
	records atomic.Int64
}

// NewBatchLimiter admits up to slots batches, queueing others for at most
// queue. Non-positive arguments take the defaults.
func NewBatchLimiter(slots int, queue time.Duration) *BatchLimiter {
	if slots <= 0 {
		slots = DefaultMaxConcurrentBatches
	}
	if queue <= 0 {
		queue = DefaultBatchWait
	}
	return &BatchLimiter{
		slots: semaphore.NewWeighted(int64(slots)),
		size:  int64(slots),
		queue: queue,
	}
}

// Admit waits for a slot for a batch of n records. The returned func frees
// the slot and must be called once the batch is done. Admit returns ctx's
// error if the caller gives up first and ErrTooManyBatches if the queueing
// window closes.
func (l *BatchLimiter) Admit(ctx context.Context, n int) (func(), error) {
	queueCtx, cancel := context.WithTimeout(ctx, l.queue)
	defer cancel()

	if err := l.slots.Acquire(queueCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyBatches
	}
	return l.track(n), nil
}

// TryAdmit is Admit without queueing.
func (l *BatchLimiter) TryAdmit(n int) (func(), bool) {
	if !l.slots.TryAcquire(1) {
		return nil, false
	}
	return l.track(n), true
}

func (l *BatchLimiter) track(n int) func() {
	l.running.Add(1)
	l.records.Add(int64(n))

	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		l.records.Add(-int64(n))
		l.running.Add(-1)
		l.slots.Release(1)
	}
}

// WaitForDrain blocks until running batches finish or ctx ends. Batches
// queued behind the drain wait until it returns.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.slots.Acquire(ctx, l.size); err != nil {
		return err
	}
	l.slots.Release(l.size)
	return nil
}

// BatchLimiterStatus is a snapshot of batch admission.
type BatchLimiterStatus struct {
	Active          int   `json:"active"`
	Available       int   `json:"available"`
	MaxConcurrent   int   `json:"max_concurrent"`
	RecordsInFlight int64 `json:"records_in_flight"`
}

func (l *BatchLimiter) Status() BatchLimiterStatus {
	active := int(l.running.Load())
	return BatchLimiterStatus{
		Active:          active,
		Available:       max(int(l.size)-active, 0),
		MaxConcurrent:   int(l.size),
		RecordsInFlight: l.records.Load(),
	}
}
