// Package async provides a bounded worker pool used to decouple stream
// callbacks from downstream persistence latency.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/observability"
)

// Task is a unit of work executed by pool workers.
type Task func(context.Context) error

// Pool is a bounded worker pool. Submissions beyond the queue depth fail
// immediately instead of blocking the producing stream.
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("async", errs.CodeInvalid, errs.WithMessage("workers must be positive"))
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{jobs: make(chan job, queue)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn for execution. A saturated queue returns an
// unavailable error rather than blocking the caller.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}

	// The closed check and the channel send happen under one lock so a
	// concurrent Close cannot close the channel between them.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks. Tasks already queued are still executed;
// workers exit once the queue is drained.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
}

// Shutdown closes the pool and waits for every queued and in-flight task to
// finish or until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for j := range p.jobs {
		p.execute(j.ctx, j.fn)
		p.wg.Done()
	}
}

// execute isolates one task: a panicking or failing task is logged and the
// worker keeps serving the queue.
func (p *Pool) execute(ctx context.Context, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("pool task panicked", observability.F("panic", r))
		}
	}()
	if err := fn(ctx); err != nil {
		observability.Log().Warn("pool task failed", observability.F("error", err))
	}
}
