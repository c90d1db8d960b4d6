package core

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
)

// Future is the eventual result of an asynchronous storage operation. It is
// resolved exactly once; every waiter observes the same value.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx ends. Giving up on a
// wait does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// All resolves once every member has, with the values in order and the
// member errors combined.
func All[T any](fs ...*Future[T]) *Future[[]T] {
	out := newFuture[[]T]()
	go func() {
		vals := make([]T, len(fs))
		var group errs.Group
		for i, f := range fs {
			<-f.done
			vals[i] = f.val
			group.Add(f.err)
		}
		out.resolve(vals, group.Err())
	}()
	return out
}
