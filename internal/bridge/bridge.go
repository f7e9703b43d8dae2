// Package bridge hands work from the HTTP callback context to a single
// worker on the primary scheduler over a bounded channel. Callers that need
// a synchronous answer wait with a bounded timeout; a timeout means the work
// continues asynchronously and will be re-attempted on provider retry, not
// that the operation failed.
package bridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStillProcessing is returned when the bounded wait elapsed before
	// the worker finished; the job keeps running.
	ErrStillProcessing = errors.New("processing continues asynchronously")

	// ErrQueueFull is returned when the bounded queue cannot accept the job.
	ErrQueueFull = errors.New("bridge queue full")

	// ErrStopped is returned after the bridge shut down.
	ErrStopped = errors.New("bridge stopped")
)

// Job is a unit of work executed on the bridge worker.
type Job func(ctx context.Context) error

type item struct {
	job    Job
	result chan error
}

// Bridge is a bounded queue consumed by one worker goroutine.
type Bridge struct {
	queue chan item
	done  chan struct{}
}

func New(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bridge{
		queue: make(chan item, capacity),
		done:  make(chan struct{}),
	}
}

// Run consumes jobs until ctx is cancelled. Start exactly one Run goroutine
// at process start.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-b.queue:
			err := it.job(ctx)
			if err != nil {
				zap.L().Error("bridge job failed", zap.Error(err))
			}
			it.result <- err
		}
	}
}

// Submit enqueues a job and waits up to wait for its result. A zero wait
// does not block on the result at all.
func (b *Bridge) Submit(ctx context.Context, job Job, wait time.Duration) error {
	it := item{job: job, result: make(chan error, 1)}
	select {
	case b.queue <- it:
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case err := <-it.result:
		return err
	case <-timer.C:
		return ErrStillProcessing
	case <-b.done:
		return ErrStopped
	}
}
