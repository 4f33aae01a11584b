// Package retry provides a bounded-retry-with-timeout combinator: each
// attempt runs under its own deadline, and exhaustion returns the last error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrAttemptTimeout is returned (wrapped) when a single attempt exceeds its
// per-attempt deadline.
var ErrAttemptTimeout = errors.New("attempt timed out")

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, retry after backoff
)

type Policy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration // 0 disables the per-attempt deadline
	Backoff        time.Duration
	OnRetry        func(attempt int, err error)
}

type Classify func(err error) Action

type Operation[T any] func(ctx context.Context) (T, error)

// Transient classifies every error as retryable.
func Transient(error) Action { return Retry }

// Do runs op up to p.MaxAttempts times. Each attempt is raced against
// p.AttemptTimeout on the given clock; a timed-out attempt keeps running in
// the background with a cancelled context, but its result is discarded.
func Do[T any](ctx context.Context, clock clockwork.Clock, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, errors.New("retry: MaxAttempts must be >= 1")
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := runAttempt(ctx, clock, p.AttemptTimeout, op)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if classify(err) == Stop {
			return zero, &PermanentError{Err: err}
		}
		if attempt == p.MaxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		select {
		case <-clock.After(p.Backoff):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, clock clockwork.Clock, p Policy, classify Classify, op func(ctx context.Context) error) error {
	_, err := Do(ctx, clock, p, classify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type attemptResult[T any] struct {
	val T
	err error
}

func runAttempt[T any](ctx context.Context, clock clockwork.Clock, timeout time.Duration, op Operation[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptResult[T], 1)
	go func() {
		val, err := op(attemptCtx)
		resultCh <- attemptResult[T]{val: val, err: err}
	}()

	timer := clock.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-timer.Chan():
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// PermanentError wraps an error classified as Stop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
