// Package retry runs operations under an explicit exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// Policy defines retry behavior. The delay before attempt k (k >= 2) is
// BaseDelay * 2^(k-2), capped at MaxDelay when MaxDelay > 0.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failure is transient. Defaults to IsTransient.
	Retryable func(error) bool
}

// DefaultFetchPolicy is used for upstream page and comment requests.
var DefaultFetchPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
}

// DefaultAnalysisPolicy is used for LLM provider calls.
var DefaultAnalysisPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   10 * time.Second,
	MaxDelay:    120 * time.Second,
}

// Backoff returns the delay schedule for the policy.
func (p Policy) Backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	return goretry.WithMaxRetries(retries, b)
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", domain.ErrRetryExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is makes errors.Is(err, domain.ErrRetryExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == domain.ErrRetryExhausted
}

// Hook observes retries, e.g. for metrics.
type Hook func(attempt int, lastErr error)

// Executor runs operations under one Policy.
type Executor struct {
	policy  Policy
	name    string
	log     *slog.Logger
	onRetry Hook
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithOnRetry registers a hook called before each retry.
func WithOnRetry(h Hook) Option {
	return func(e *Executor) { e.onRetry = h }
}

// NewExecutor creates an executor for the given policy. name appears in logs.
func NewExecutor(name string, policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	e := &Executor{
		policy: policy,
		name:   name,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute runs op until it succeeds, fails permanently, or attempts run out.
// Permanent failures are returned as-is after the first attempt.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	var lastTransient error

	err := goretry.Do(ctx, e.policy.Backoff(), func(ctx context.Context) error {
		if attempts > 0 {
			e.log.Warn("Retrying operation",
				"op", e.name, "attempt", attempts+1, "max", e.policy.MaxAttempts, "error", lastTransient)
			if e.onRetry != nil {
				e.onRetry(attempts+1, lastTransient)
			}
		}
		attempts++

		err := op(ctx)
		if err == nil {
			lastTransient = nil
			return nil
		}
		if ctx.Err() != nil {
			lastTransient = nil
			return err
		}
		if !e.policy.Retryable(err) {
			lastTransient = nil
			return err
		}
		lastTransient = err
		return goretry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if lastTransient != nil && attempts >= e.policy.MaxAttempts {
		return &ExhaustedError{Attempts: attempts, Last: lastTransient}
	}
	return err
}

// Do is Execute for operations returning a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, domain.ErrRetryExhausted)
}
