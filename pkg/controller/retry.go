package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// RetryPolicy re-runs a read with an incrementing backoff. The wait after
// attempt k is min(InitialDelay + Step*(k-1), MaxDelay).
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Step         time.Duration
	MaxDelay     time.Duration

	// Clock drives the waits. Nil means the wall clock.
	Clock clock.Clock
}

// DefaultRetryPolicy waits at most about a minute over 15 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     15,
		InitialDelay: time.Second,
		Step:         time.Second,
		MaxDelay:     5 * time.Second,
		Clock:        clock.WallClock,
	}
}

// Backoff returns the wait that follows the given 1-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay + p.Step*time.Duration(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ExhaustedError is returned by Call when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the error of the last attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Call runs fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. Cancelling ctx stops the waits.
func (p RetryPolicy) Call(ctx context.Context, fn func() error, retryable func(error) bool, notify func(err error, attempt int)) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var (
		last     error
		attempts int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			last = fn()
			return last
		},
		IsFatalError: func(err error) bool {
			return !retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if notify != nil {
				notify(err, attempt)
			}
		},
		Attempts: p.Attempts,
		Delay:    p.Backoff(1),
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return p.Backoff(attempt)
		},
		Clock: clk,
		Stop:  ctx.Done(),
	})

	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return &ExhaustedError{Attempts: attempts, Err: last}
	case retry.IsRetryStopped(err):
		return fmt.Errorf("retry stopped after %d attempts: %w", attempts, errors.Join(ctx.Err(), last))
	case last != nil:
		return last
	default:
		return err
	}
}

// awaitPending re-reads an entity until its provisioning status is
// PENDING_UPDATE. Running out of attempts while the entity sits in another
// state is not fatal: the last snapshot is returned and a warning logged, as a
// concurrent administrative operation such as a rolling upgrade can hold it
// there. When the last attempt found the entity missing, the result is a
// not-found error even if earlier reads succeeded.
func awaitPending[T any](
	ctx context.Context,
	w *Worker,
	kind, id string,
	get func(context.Context, string) (T, error),
	status func(T) models.ProvisioningStatus,
) (T, error) {
	var (
		last T
		seen bool
	)
	err := w.retry.Call(ctx, func() error {
		v, err := get(ctx, id)
		if err != nil {
			return err
		}
		last, seen = v, true
		if s := status(v); s != models.ProvisioningPendingUpdate {
			return fmt.Errorf("%w: %s %s is %s", ErrConvergenceTimeout, kind, id, s)
		}
		return nil
	}, func(error) bool { return true }, func(err error, attempt int) {
		w.logger.WithField("attempt", attempt).WithError(err).
			Debugf("waiting for %s %s to become %s", kind, id, models.ProvisioningPendingUpdate)
	})

	var zero T
	var exhausted *ExhaustedError
	switch {
	case err == nil:
		return last, nil
	case errors.As(err, &exhausted) && seen && errors.Is(exhausted.Err, ErrConvergenceTimeout):
		w.logger.WithEntity(kind, id).Warnf(
			"%s did not go into %s after %d attempts; assuming a concurrent administrative operation such as a rolling upgrade and continuing",
			kind, models.ProvisioningPendingUpdate, exhausted.Attempts)
		w.tel.Metrics.RecordConvergenceExhausted(kind)
		_ = w.tel.Events.PublishConvergenceExhausted(kind, id, exhausted.Attempts)
		return last, nil
	case errors.As(err, &exhausted) && stores.IsNotFound(exhausted.Err):
		return zero, notFound(kind, id, exhausted.Err)
	default:
		return zero, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
}

// mustExist re-reads an entity while the repository reports it missing.
// Running out of attempts is fatal and returns a not-found error.
func mustExist[T any](
	ctx context.Context,
	w *Worker,
	kind, id string,
	get func(context.Context, string) (T, error),
) (T, error) {
	var v T
	err := w.retry.Call(ctx, func() error {
		var err error
		v, err = get(ctx, id)
		return err
	}, stores.IsNotFound, func(_ error, attempt int) {
		w.logger.WithField("attempt", attempt).
			Warnf("failed to fetch %s %s, retrying", kind, id)
	})

	var zero T
	var exhausted *ExhaustedError
	switch {
	case err == nil:
		return v, nil
	case errors.As(err, &exhausted):
		return zero, notFound(kind, id, exhausted.Err)
	case stores.IsNotFound(err):
		return zero, notFound(kind, id, err)
	default:
		return zero, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
}

// get reads an entity once, mapping a miss to a not-found error.
func get[T any](ctx context.Context, kind, id string, fn func(context.Context, string) (T, error)) (T, error) {
	v, err := fn(ctx, id)
	if err != nil {
		var zero T
		if stores.IsNotFound(err) {
			return zero, notFound(kind, id, err)
		}
		return zero, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return v, nil
}
