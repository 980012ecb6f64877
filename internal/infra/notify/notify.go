// Package notify delivers operator notifications.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

// Sink receives operator notifications.
type Sink interface {
	NotifyText(ctx context.Context, text string) error
	NotifyMarkdown(ctx context.Context, content string) error
	NotifyError(ctx context.Context, sourceID, summary string) error
	NotifyQRCode(ctx context.Context, image []byte) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyText(context.Context, string) error          { return nil }
func (Nop) NotifyMarkdown(context.Context, string) error      { return nil }
func (Nop) NotifyError(context.Context, string, string) error { return nil }
func (Nop) NotifyQRCode(context.Context, []byte) error        { return nil }

// Async sends through an inner Sink in the background so callers never block
// on, or fail because of, notification delivery.
type Async struct {
	inner   Sink
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps inner. Each delivery gets its own timeout.
func NewAsync(inner Sink, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{inner: inner, timeout: timeout, log: slog.Default()}
}

func (a *Async) NotifyText(ctx context.Context, text string) error {
	a.dispatch(ctx, "text", func(ctx context.Context) error { return a.inner.NotifyText(ctx, text) })
	return nil
}

func (a *Async) NotifyMarkdown(ctx context.Context, content string) error {
	a.dispatch(ctx, "markdown", func(ctx context.Context) error { return a.inner.NotifyMarkdown(ctx, content) })
	return nil
}

func (a *Async) NotifyError(ctx context.Context, sourceID, summary string) error {
	a.dispatch(ctx, "error", func(ctx context.Context) error { return a.inner.NotifyError(ctx, sourceID, summary) })
	return nil
}

func (a *Async) NotifyQRCode(ctx context.Context, image []byte) error {
	a.dispatch(ctx, "qrcode", func(ctx context.Context) error { return a.inner.NotifyQRCode(ctx, image) })
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (a *Async) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (a *Async) dispatch(ctx context.Context, kind string, send func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// Detached from the caller so a finished run does not cancel delivery.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := send(sendCtx); err != nil {
			metrics.NotificationsSent.WithLabelValues(kind, "error").Inc()
			a.log.Warn("Notification failed", "kind", kind, "error", err)
			return
		}
		metrics.NotificationsSent.WithLabelValues(kind, "ok").Inc()
	}()
}
