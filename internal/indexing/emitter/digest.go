package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// MarkdownNotifier is the part of the notification channel the digest uses.
type MarkdownNotifier interface {
	NotifyMarkdown(ctx context.Context, content string) error
}

// DigestBuffer collects financial records per source and sends them as one
// markdown digest when the run for that source ends.
type DigestBuffer struct {
	notifier MarkdownNotifier
	maxLines int
	pending  map[string][]domain.AnalyzedRecord // sourceID -> records
	names    map[string]string
	mu       sync.Mutex
}

// NewDigestBuffer creates a buffer listing at most maxLines posts per digest.
func NewDigestBuffer(notifier MarkdownNotifier, maxLines int) *DigestBuffer {
	if maxLines <= 0 {
		maxLines = 20
	}
	return &DigestBuffer{
		notifier: notifier,
		maxLines: maxLines,
		pending:  make(map[string][]domain.AnalyzedRecord),
		names:    make(map[string]string),
	}
}

func (d *DigestBuffer) Name() string { return "digest" }

// Emit queues the financial records. Nothing is sent yet.
func (d *DigestBuffer) Emit(_ context.Context, src domain.Source, records []domain.AnalyzedRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.names[src.ID] = src.Name
	for _, r := range records {
		if r.Result.IsFinancial {
			d.pending[src.ID] = append(d.pending[src.ID], r)
		}
	}
	return nil
}

// Flush sends the digest for a source and clears it. Sources with nothing
// pending send nothing.
func (d *DigestBuffer) Flush(ctx context.Context, sourceID string) error {
	d.mu.Lock()
	records := d.pending[sourceID]
	name := d.names[sourceID]
	delete(d.pending, sourceID)
	d.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := d.notifier.NotifyMarkdown(ctx, d.render(sourceID, name, records)); err != nil {
		return fmt.Errorf("failed to send digest for %s: %w", sourceID, err)
	}
	return nil
}

// Discard drops pending records for a source, e.g. after a failed run.
func (d *DigestBuffer) Discard(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, sourceID)
}

// PendingCount returns the number of queued records for a source.
func (d *DigestBuffer) PendingCount(sourceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[sourceID])
}

func (d *DigestBuffer) render(sourceID, name string, records []domain.AnalyzedRecord) string {
	if name == "" {
		name = sourceID
	}

	counts := make(map[domain.Sentiment]int)
	for _, r := range records {
		counts[r.Result.Sentiment]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", name)
	fmt.Fprintf(&b, "> %d financial posts: <font color=\"info\">%d bullish</font>, <font color=\"warning\">%d bearish</font>, %d neutral, %d mixed\n\n",
		len(records),
		counts[domain.SentimentBullish],
		counts[domain.SentimentBearish],
		counts[domain.SentimentNeutral],
		counts[domain.SentimentMixed],
	)

	for i, r := range records {
		if i == d.maxLines {
			fmt.Fprintf(&b, "... and %d more\n", len(records)-i)
			break
		}
		line := r.Result.Summary
		if line == "" {
			line = excerpt(r.Item.Text, 60)
		}
		instruments := "-"
		if len(r.Result.Instruments) > 0 {
			instruments = strings.Join(r.Result.Instruments, "、")
		}
		fmt.Fprintf(&b, "- **%s** %s: %s\n", r.Result.Sentiment, instruments, line)
	}
	return b.String()
}
