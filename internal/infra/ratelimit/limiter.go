// Package ratelimit bounds outbound request rates per upstream host.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks callers so that no rolling window of the configured length
// ever holds more than the configured number of acquisitions.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// HostLimiter spaces acquisitions evenly: limit calls per window become one
// call every window/limit, with no burst.
type HostLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	jitter   time.Duration
}

// New allows limit acquisitions per window. A positive jitter adds a random
// pause of up to jitter after each acquisition.
func New(limit int, window time.Duration, jitter time.Duration) *HostLimiter {
	if limit < 1 {
		limit = 1
	}
	var interval time.Duration
	every := rate.Inf
	if window > 0 {
		interval = window / time.Duration(limit)
		every = rate.Every(interval)
	}
	return &HostLimiter{
		limiter:  rate.NewLimiter(every, 1),
		interval: interval,
		jitter:   jitter,
	}
}

// Acquire waits for the next slot. It fails when ctx ends first or when
// its deadline falls before the slot.
func (l *HostLimiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.jitter <= 0 {
		return nil
	}

	t := time.NewTimer(rand.N(l.jitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Interval returns the spacing between acquisitions. Zero means unlimited.
func (l *HostLimiter) Interval() time.Duration { return l.interval }

// Registry hands out one limiter per upstream host so that every source
// talking to the same host shares its budget.
type Registry struct {
	limiters map[string]*HostLimiter
	mu       sync.RWMutex
	limit    int
	window   time.Duration
	jitter   time.Duration
}

// NewRegistry creates a registry whose limiters allow limit calls per window.
func NewRegistry(limit int, window, jitter time.Duration) *Registry {
	return &Registry{
		limiters: make(map[string]*HostLimiter),
		limit:    limit,
		window:   window,
		jitter:   jitter,
	}
}

// ForURL returns the limiter for the host of rawURL.
func (r *Registry) ForURL(rawURL string) (*HostLimiter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if host == "" {
		host = rawURL
	}
	return r.ForHost(host), nil
}

// ForHost returns the limiter for host, creating it on first use.
func (r *Registry) ForHost(host string) *HostLimiter {
	r.mu.RLock()
	limiter, exists := r.limiters[host]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check pattern
	if limiter, exists := r.limiters[host]; exists {
		return limiter
	}

	limiter = New(r.limit, r.window, r.jitter)
	r.limiters[host] = limiter
	return limiter
}
