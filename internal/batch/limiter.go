package batch

import (
	"context"
	"sync"
)

// Job is one unit of subtask work executed under the limiter. The context is
// cancelled when CancelAll is called; jobs observe it at their own suspension
// points.
type Job func(ctx context.Context)

// Limiter is a bounded worker pool. At most size jobs run concurrently; jobs
// submitted beyond that block on a semaphore slot rather than spinning.
// Cancellation is cooperative: CancelAll cancels the shared context, which
// releases jobs waiting for admission and signals running jobs through the
// context they were handed.
type Limiter struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

// NewLimiter creates a limiter admitting at most size concurrent jobs.
// A size below 1 is treated as 1.
func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{
		sem:    make(chan struct{}, size),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules job for execution. It returns immediately; the job waits
// for a semaphore slot in its own goroutine. Jobs submitted after CancelAll,
// or still waiting for admission when CancelAll fires, are never started.
func (l *Limiter) Submit(job Job) {
	l.mu.Lock()
	if l.cancelled {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		select {
		case l.sem <- struct{}{}:
		case <-l.ctx.Done():
			return
		}
		defer func() { <-l.sem }()

		job(l.ctx)
	}()
}

// CancelAll signals cancellation to every waiting and running job. It does
// not wait for them; pair with AwaitIdle to block until the pool drains.
func (l *Limiter) CancelAll() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()
	l.cancel()
}

// AwaitIdle blocks until no submitted jobs remain, whether they ran to
// completion or were released by cancellation.
func (l *Limiter) AwaitIdle() {
	l.wg.Wait()
}

// Cancelled reports whether CancelAll has been called.
func (l *Limiter) Cancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}
