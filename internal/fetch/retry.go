package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrTimeout marks an attempt that ran out of its per-attempt budget.
var ErrTimeout = errors.New("fetch timed out")

// PermanentError is an attempt failure raised before any request is issued,
// such as a malformed data URI or an unsupported scheme.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetryable checks if an attempt error is worth retrying. Every failed
// request is, whatever its status; only a PermanentError ends the current
// credentials mode early since no request was made.
func IsRetryable(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// Backoff returns a delay for attempt n (0-indexed) with jitter, doubling
// from base up to max. A zero base disables the delay.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if d <= 0 || (max > 0 && d > max) {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// AttemptError records one failed attempt.
type AttemptError struct {
	URI         string
	Credentials Credentials
	Attempt     int
	Err         error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d (credentials=%s): %v", e.Attempt+1, e.Credentials, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every credentials mode ran out of attempts.
type ExhaustedError struct {
	URI      string
	Attempts []*AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("fetch %s: %d attempts failed: %s", e.URI, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a)
	}
	return out
}

// Timeout reports whether the final attempt timed out.
func (e *ExhaustedError) Timeout() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	return errors.Is(e.Attempts[len(e.Attempts)-1], ErrTimeout)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
