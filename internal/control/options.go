package control

import (
	"github.com/vietddude/groupwatch/internal/indexing/analysis"
	"github.com/vietddude/groupwatch/internal/indexing/fetcher"
	"github.com/vietddude/groupwatch/internal/infra/notify"
	"github.com/vietddude/groupwatch/internal/infra/ratelimit"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

type options struct {
	upstream   fetcher.Upstream
	sessions   fetcher.SessionProvider
	limiter    ratelimit.Limiter
	backends   []analysis.Backend
	notifier   notify.Sink
	cursorRepo storage.CursorRepository
}

// Option replaces a component NewWatcher would otherwise build from config.
type Option func(*options)

// WithUpstream replaces the zsxq API client.
func WithUpstream(u fetcher.Upstream) Option {
	return func(o *options) { o.upstream = u }
}

// WithSessions replaces the cookie-file session provider.
func WithSessions(s fetcher.SessionProvider) Option {
	return func(o *options) { o.sessions = s }
}

// WithLimiter replaces the per-host upstream limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithBackends replaces the configured analysis providers.
func WithBackends(b []analysis.Backend) Option {
	return func(o *options) { o.backends = b }
}

// WithNotifier replaces the WeCom notifier.
func WithNotifier(n notify.Sink) Option {
	return func(o *options) { o.notifier = n }
}

// WithCursorRepository replaces the configured storage driver.
func WithCursorRepository(r storage.CursorRepository) Option {
	return func(o *options) { o.cursorRepo = r }
}
