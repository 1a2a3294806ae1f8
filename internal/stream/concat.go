package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type message[T any] struct {
	index int
	value T
	done  bool
}

// ConcatEager subscribes to all sources at once but emits their values as if
// they had run one after the other. Values from a source that is not yet the
// current one are buffered until every source before it has completed.
//
// The first source error cancels every other source and is returned as is;
// buffered values are dropped. emit is only ever called from the goroutine
// running the returned source.
func ConcatEager[T any](sources ...Source[T]) Source[T] {
	return func(ctx context.Context, emit func(T) error) error {
		n := len(sources)
		if n == 0 {
			return nil
		}

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(cctx)

		events := make(chan message[T])
		send := func(m message[T]) error {
			select {
			case events <- m:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		for i, src := range sources {
			g.Go(func() error {
				err := src(gctx, func(v T) error {
					return send(message[T]{index: i, value: v})
				})
				if err != nil {
					return err
				}
				return send(message[T]{index: i, done: true})
			})
		}

		buffers := make([][]T, n)
		complete := make([]bool, n)
		current := 0

		var emitErr error
		forward := func(v T) bool {
			if gctx.Err() != nil {
				return false
			}
			if err := emit(v); err != nil {
				emitErr = err
				return false
			}
			return true
		}

	loop:
		for current < n {
			select {
			case <-gctx.Done():
				break loop
			case m := <-events:
				if !m.done {
					if m.index == current {
						if !forward(m.value) {
							break loop
						}
					} else {
						buffers[m.index] = append(buffers[m.index], m.value)
					}
					continue
				}

				complete[m.index] = true
				for current < n && complete[current] {
					current++
					if current == n {
						break
					}
					for _, v := range buffers[current] {
						if !forward(v) {
							break loop
						}
					}
					buffers[current] = nil
				}
			}
		}

		cancel()
		werr := g.Wait()
		switch {
		case emitErr != nil:
			return emitErr
		case current == n:
			return nil
		case werr != nil:
			return werr
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return context.Canceled
		}
	}
}
