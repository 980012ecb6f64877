package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

func quietExecutor(p Policy) *Executor {
	return NewExecutor("test", p, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestPolicyBackoffSchedule(t *testing.T) {
	b := DefaultFetchPolicy.Backoff()

	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, delays)
}

func TestPolicyBackoffCapped(t *testing.T) {
	b := DefaultAnalysisPolicy.Backoff()

	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}, delays)
}

func TestExecute_RetriesTransientThenExhausts(t *testing.T) {
	base := 20 * time.Millisecond
	e := quietExecutor(Policy{MaxAttempts: 3, BaseDelay: base})

	calls := 0
	start := time.Now()
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("page 2: %w", domain.ErrTransient)
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, domain.ErrRetryExhausted))
	assert.True(t, errors.Is(err, domain.ErrTransient), "last failure must stay reachable")

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)

	// base + 2*base between the three attempts
	assert.GreaterOrEqual(t, elapsed, 3*base)
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	e := quietExecutor(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})

	calls := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("bad request: %w", domain.ErrPermanent)
	})

	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, domain.ErrPermanent))
	assert.False(t, errors.Is(err, domain.ErrRetryExhausted))
}

func TestExecute_SucceedsAfterTransient(t *testing.T) {
	var retried []int
	base := 40 * time.Millisecond
	e := NewExecutor("test", Policy{MaxAttempts: 3, BaseDelay: base},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOnRetry(func(attempt int, _ error) { retried = append(retried, attempt) }),
	)

	calls := 0
	start := time.Now()
	got, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.ErrTransient
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []int{2, 3}, retried)

	// Two retries wait base then 2*base, and nothing else.
	want := 3 * base
	assert.GreaterOrEqual(t, elapsed, want)
	assert.Less(t, elapsed, want+80*time.Millisecond)
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	e := quietExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.Execute(ctx, func(ctx context.Context) error {
		return domain.ErrTransient
	})

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, domain.ErrRetryExhausted))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient sentinel", fmt.Errorf("x: %w", domain.ErrTransient), true},
		{"permanent sentinel", fmt.Errorf("x: %w", domain.ErrPermanent), false},
		{"auth expired", domain.ErrAuthExpired, false},
		{"canceled", context.Canceled, false},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"429 text", errors.New("http 429: slow down"), true},
		{"5xx text", errors.New("http 503: unavailable"), true},
		{"plain", errors.New("invalid group id"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
