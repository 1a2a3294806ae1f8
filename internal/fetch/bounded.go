package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Bounded runs fetches with a per-attempt timeout, a retry budget per
// credentials mode, and sequential fallback across modes. Exactly one
// request is in flight per Fetch call.
type Bounded struct {
	Fetcher    Fetcher
	Timeout    time.Duration
	RetryCount int

	// BackoffBase and BackoffMax space out retries of the same mode. Zero
	// retries immediately.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// OnAttemptError observes every failed attempt before the next one starts.
	OnAttemptError func(*AttemptError)

	Stats *Stats
	Log   *slog.Logger
}

// Fetch tries each credentials mode in order and returns the first success.
func (b *Bounded) Fetch(ctx context.Context, uri string, modes []Credentials) (*Response, error) {
	if len(modes) == 0 {
		modes = []Credentials{CredentialsOmit}
	}
	log := b.logger().With("uri", uri)

	var failed []*AttemptError
	for _, mode := range modes {
		for attempt := range b.RetryCount + 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			resp, err := b.attempt(ctx, Request{URI: uri, Credentials: mode})
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			ae := &AttemptError{URI: uri, Credentials: mode, Attempt: attempt, Err: err}
			failed = append(failed, ae)
			log.Warn("fetch attempt failed", "credentials", string(mode), "attempt", attempt, "error", err)
			if b.OnAttemptError != nil {
				b.OnAttemptError(ae)
			}

			if !IsRetryable(err) || attempt == b.RetryCount {
				break
			}
			if err := sleep(ctx, Backoff(b.BackoffBase, b.BackoffMax, attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, &ExhaustedError{URI: uri, Attempts: failed}
}

func (b *Bounded) attempt(ctx context.Context, req Request) (*Response, error) {
	actx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.Fetcher.Fetch(actx, req)
	elapsed := time.Since(start)
	if err != nil {
		if b.Stats != nil {
			b.Stats.Record(elapsed, false)
		}
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, b.Timeout, err)
		}
		return nil, err
	}
	if b.Stats != nil {
		b.Stats.Record(elapsed, true)
	}
	return resp, nil
}

func (b *Bounded) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}
