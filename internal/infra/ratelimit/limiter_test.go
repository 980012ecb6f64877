package ratelimit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestHostLimiter_FirstCallDoesNotWait(t *testing.T) {
	l := New(3, time.Hour, 0)

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first acquisition took %v, expected no wait", elapsed)
	}
	if got := l.Interval(); got != 20*time.Minute {
		t.Errorf("Interval = %v, want 20m", got)
	}
}

func TestHostLimiter_SpacesCallsEvenly(t *testing.T) {
	window := 150 * time.Millisecond
	l := New(3, window, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	// Three calls at one per 50ms: the third waits for two intervals.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond-5*time.Millisecond {
		t.Errorf("third acquisition returned after %v, want >= 100ms", elapsed)
	}
}

func TestHostLimiter_RollingWindowNeverExceedsLimit(t *testing.T) {
	const limit = 4
	window := 200 * time.Millisecond
	l := New(limit, window, 0)

	var (
		mu    sync.Mutex
		stamp []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			stamp = append(stamp, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.SortFunc(stamp, func(a, b time.Time) int { return a.Compare(b) })
	tolerance := 15 * time.Millisecond
	for i := limit; i < len(stamp); i++ {
		if gap := stamp[i].Sub(stamp[i-limit]); gap < window-tolerance {
			t.Errorf("calls %d and %d are %v apart, want >= %v", i-limit, i, gap, window)
		}
	}
}

func TestHostLimiter_ContextCancel(t *testing.T) {
	l := New(1, time.Hour, 0)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire error = %v, want context canceled", err)
	}
}

func TestHostLimiter_JitterPausesAfterWait(t *testing.T) {
	l := New(1000, time.Second, 40*time.Millisecond)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	// Five pauses of at most 40ms each, plus four 1ms intervals.
	if elapsed := time.Since(start); elapsed > 5*40*time.Millisecond+100*time.Millisecond {
		t.Errorf("jittered acquisitions took %v", elapsed)
	}
}

func TestHostLimiter_NoWindowMeansUnlimited(t *testing.T) {
	l := New(1, 0, 0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unlimited acquisitions took %v", elapsed)
	}
	if got := l.Interval(); got != 0 {
		t.Errorf("Interval = %v, want 0", got)
	}
}

func TestRegistry_SharesLimiterPerHost(t *testing.T) {
	r := NewRegistry(20, time.Minute, 0)

	a, err := r.ForURL("https://api.zsxq.com/v2/groups/1/topics")
	if err != nil {
		t.Fatalf("ForURL failed: %v", err)
	}
	b, _ := r.ForURL("https://api.zsxq.com/v2/topics/9/comments")
	c, _ := r.ForURL("https://other.example.com/v1")

	if a != b {
		t.Error("expected same limiter for the same host")
	}
	if a == c {
		t.Error("expected distinct limiters for different hosts")
	}
	if got := a.Interval(); got != 3*time.Second {
		t.Errorf("Interval = %v, want 3s", got)
	}
}
