package core

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs storage work off the caller's goroutine. Coordination
// goroutines started with Go are unbounded; backend I/O run through Do is
// bounded by the worker count. Code running under Do must never wait on
// another future, so waits happen before the slot is acquired.
type Pool struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool returns a pool allowing workers concurrent backend operations.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Go runs fn on a tracked goroutine. It fails once the pool is closed.
func (p *Pool) Go(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed.New("worker pool")
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
	return nil
}

// Do runs fn while holding one worker slot.
func (p *Pool) Do(fn func(ctx context.Context) error) error {
	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Close stops accepting work. Work already accepted keeps running.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Wait blocks until every accepted goroutine has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit runs fn on p and exposes its result as a future.
func submit[T any](p *Pool, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := p.Go(func() { f.resolve(fn()) }); err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}
