package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	execpkg "github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
)

// RetryPolicy bounds the retry loop around a single executor invocation.
// The delay before attempt k+1 is BaseInterval * BackoffRate^(k-1).
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
	BackoffRate  float64
}

// Attempt is one executor invocation inside the retry loop.
type Attempt func(ctx context.Context) error

// RetryNotify is called before each backoff sleep with the failed attempt
// number (1-based), its error, and the upcoming delay.
type RetryNotify func(attempt int, err error, delay time.Duration)

// Run drives op under the policy. Non-retryable executor errors and context
// cancellation stop the loop immediately; otherwise op runs at most
// MaxAttempts times. The last attempt's error is returned on exhaustion.
func (p RetryPolicy) Run(ctx context.Context, op Attempt, notify RetryNotify) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseInterval
	bo.Multiplier = p.BackoffRate
	bo.RandomizationFactor = 0 // delays must match the policy exactly
	bo.MaxInterval = time.Duration(1<<62 - 1)
	bo.MaxElapsedTime = 0 // the engine deadline bounds total time, not the policy

	attempt := 0
	var lastErr error

	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var execErr *execpkg.Error
		if errors.As(err, &execErr) && execErr.NonRetryable {
			return backoff.Permanent(err)
		}
		return err
	}

	boWithLimit := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(wrapped, boWithLimit, func(err error, delay time.Duration) {
		if notify != nil {
			notify(attempt, err, delay)
		}
	})
	if err == nil {
		return nil
	}
	// backoff may surface the context error when a sleep is interrupted;
	// prefer the attempt's own error for diagnostics.
	if lastErr != nil {
		return lastErr
	}
	return err
}
