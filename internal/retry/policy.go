// Package retry decides whether a finished run should be executed again and paces the attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// jitterFraction is the maximum relative deviation applied to every delay
const jitterFraction = 0.1

// Policy describes which result codes are retried and how often
type Policy struct {
	// RetryableCodes are the result codes that warrant another attempt
	RetryableCodes []string

	// MaxRetries is the number of retries after the first attempt. Negative means unlimited.
	MaxRetries int

	// BaseInterval is multiplied by the attempt number to compute the delay
	BaseInterval time.Duration
}

// Attempt executes the run once and returns the authoritative result code of the run
type Attempt func(ctx context.Context, attempt int) (string, error)

// Outcome summarizes an Execute call
type Outcome struct {
	// Result is the result code of the final attempt
	Result string

	// Attempts is the number of times the run was executed
	Attempts int

	// Exhausted is set when the final result was still retryable
	Exhausted bool
}

// retryableError marks an attempt whose result code is in the retryable set
type retryableError struct {
	code string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable result %s", e.code)
}

// ShouldRetry reports whether the result code is in the retryable set
func (p Policy) ShouldRetry(code string) bool {
	return code != "" && slices.Contains(p.RetryableCodes, code)
}

// Delay returns the wait before the given retry, base*attempt with up to 10% jitter either way
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseInterval * time.Duration(attempt)
	if d <= 0 {
		return 0
	}
	jitter := (rand.Float64()*2 - 1) * jitterFraction * float64(d)
	return d + time.Duration(jitter)
}

// linearBackOff feeds Policy.Delay to backoff.Retry
type linearBackOff struct {
	policy  Policy
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Execute runs the attempt until its result code is no longer retryable, the retry budget is
// spent or ctx is done. Errors returned by the attempt are not retried.
func (p Policy) Execute(ctx context.Context, attempt Attempt) (Outcome, error) {
	var outcome Outcome

	op := func() (string, error) {
		outcome.Attempts++
		code, err := attempt(ctx, outcome.Attempts)
		if err != nil {
			return code, backoff.Permanent(err)
		}
		outcome.Result = code
		if p.ShouldRetry(code) {
			return code, &retryableError{code: code}
		}
		return code, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&linearBackOff{policy: p}),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Info("Retrying run", "attempt", outcome.Attempts, "reason", err.Error(), "delay", next)
		}),
	}
	if p.MaxRetries >= 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxRetries)+1))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return outcome, nil
	}

	var retryable *retryableError
	if errors.As(err, &retryable) {
		outcome.Exhausted = true
		slog.Warn("Retries exhausted", "attempts", outcome.Attempts, "result", outcome.Result)
		return outcome, nil
	}
	return outcome, err
}
