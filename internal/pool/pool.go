// Package pool runs blocking orchestrator calls on a fixed set of workers.
package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"hub-activity-backend/internal/metrics"
)

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool is a bounded worker pool. Every call gets its own deadline so a hung
// orchestrator cannot hold a worker or a caller forever.
type Pool struct {
	size      int
	timeout   time.Duration
	jobs      chan job
	startOnce sync.Once
}

// New creates a pool of size workers with the given per-call timeout.
func New(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:    size,
		timeout: timeout,
		jobs:    make(chan job, size),
	}
}

// Start launches the worker goroutines. Calling it again is a no-op. The
// workers exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			go p.worker(ctx, i)
		}
	})
}

func (p *Pool) worker(ctx context.Context, id int) {
	log.Printf("[Pool] Worker %d started", id)
	for {
		select {
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- j.fn(j.ctx)
		case <-ctx.Done():
			log.Printf("[Pool] Worker %d shutting down", id)
			return
		}
	}
}

// Do runs fn on a worker and waits for it. fn receives a context carrying
// the pool's per-call deadline. A call that does not finish in time
// returns the context error; fn keeps its worker until it honours the
// cancellation.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	return p.DoTimeout(ctx, p.timeout, fn)
}

// DoTimeout is Do with an explicit deadline, for operations such as a
// container restart that legitimately outlast the default call timeout.
func (p *Pool) DoTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return p.expired(ctx)
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return p.expired(ctx)
	}
}

func (p *Pool) expired(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.PoolTimeouts.Inc()
	}
	return err
}

// Submit runs fn on the pool and returns its value.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
