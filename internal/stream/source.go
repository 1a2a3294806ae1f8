// Package stream provides push-based sources that emit zero or more values
// and then terminate with nil or an error.
package stream

import (
	"context"
	"sync"
)

// Source produces values by calling emit, and returns when it is done. A
// non-nil error from emit must stop the source and be returned.
type Source[T any] func(ctx context.Context, emit func(T) error) error

// Empty completes without emitting.
func Empty[T any]() Source[T] {
	return func(context.Context, func(T) error) error { return nil }
}

// Just emits a single value.
func Just[T any](v T) Source[T] {
	return func(_ context.Context, emit func(T) error) error {
		return emit(v)
	}
}

// FromSlice emits the values in order.
func FromSlice[T any](vs []T) Source[T] {
	return func(ctx context.Context, emit func(T) error) error {
		for _, v := range vs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	}
}

// Fail terminates with err without emitting.
func Fail[T any](err error) Source[T] {
	return func(context.Context, func(T) error) error { return err }
}

// Map transforms every value of src.
func Map[T, U any](src Source[T], fn func(T) U) Source[U] {
	return func(ctx context.Context, emit func(U) error) error {
		return src(ctx, func(v T) error {
			return emit(fn(v))
		})
	}
}

// ConcatMap runs the source returned by fn for every value of src, one after
// the other, in the order the values arrive.
func ConcatMap[T, U any](src Source[T], fn func(T) Source[U]) Source[U] {
	return func(ctx context.Context, emit func(U) error) error {
		return src(ctx, func(v T) error {
			return fn(v)(ctx, emit)
		})
	}
}

// Collect runs src to completion and returns everything it emitted.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var out []T
	err := src(ctx, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// Shared runs fn at most once and hands the same result to every caller of
// Get. Concurrent callers wait for the first run to finish.
//
// fn runs on a context that keeps the first caller's values but not its
// cancellation. It is cancelled only once every caller waiting in Get has
// given up; a cancelled waiter does not fail the others.
type Shared[T any] struct {
	fn func(context.Context) (T, error)

	mu      sync.Mutex
	started bool
	waiters int
	cancel  context.CancelFunc

	done chan struct{}
	val  T
	err  error
}

func NewShared[T any](fn func(context.Context) (T, error)) *Shared[T] {
	return &Shared[T]{fn: fn, done: make(chan struct{})}
}

// Get returns the shared result, starting the computation on first use.
func (s *Shared[T]) Get(ctx context.Context) (T, error) {
	s.mu.Lock()
	if !s.started {
		s.started = true
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		go func() {
			defer cancel()
			defer close(s.done)
			s.val, s.err = s.fn(runCtx)
		}()
	}
	s.waiters++
	s.mu.Unlock()
	defer s.leave()

	select {
	case <-s.done:
		return s.val, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Shared[T]) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters--
	if s.waiters > 0 {
		return
	}
	select {
	case <-s.done:
	default:
		s.cancel()
	}
}
