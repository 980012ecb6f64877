// Package analysis turns items into structured financial assessments using
// an ordered chain of LLM providers.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
	"github.com/vietddude/groupwatch/internal/infra/llm"
	"github.com/vietddude/groupwatch/internal/infra/retry"
)

// Backend is one provider in the fallback chain.
type Backend struct {
	Provider llm.Provider
	// Retry applies the provider's retry policy to each completion.
	Retry *retry.Executor
	// Pace spaces out requests to the provider. Nil means unpaced.
	Pace *rate.Limiter
	// Batch marks providers that accept multi-item prompts.
	Batch bool
}

// NewPace returns a limiter admitting one request per interval, or nil
// when interval is zero.
func NewPace(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// BatchOutcome is a successful batch call.
type BatchOutcome struct {
	Results  []domain.AnalysisResult
	Provider string
}

// ErrNoBatchProviders means no backend accepts batch prompts, so items have
// to go one at a time.
var ErrNoBatchProviders = errors.New("no batch-capable providers configured")

// BatchError reports that no batch-capable provider produced a usable
// response for the batch.
type BatchError struct {
	Items  int
	Causes []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d items: %s: %v", e.Items, domain.ErrAnalysisUnavailable, errors.Join(e.Causes...))
}

func (e *BatchError) Unwrap() []error {
	return append([]error{domain.ErrAnalysisUnavailable}, e.Causes...)
}

// Client walks the provider chain in order until one succeeds.
type Client struct {
	backends []Backend
	prompts  promptBuilder
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTextRunes bounds the post and comment text sent per item.
func WithMaxTextRunes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.prompts.maxRunes = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client over backends, tried in the given order.
func NewClient(backends []Backend, opts ...Option) *Client {
	c := &Client{
		backends: make([]Backend, len(backends)),
		prompts:  promptBuilder{maxRunes: defaultMaxTextRunes},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i, b := range backends {
		if b.Retry == nil {
			b.Retry = retry.NewExecutor(b.Provider.Name(), retry.DefaultAnalysisPolicy, retry.WithLogger(c.log))
		}
		c.backends[i] = b
	}
	return c
}

// Providers returns provider names in fallback order.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Provider.Name())
	}
	return names
}

// Analyze returns the first successful result along the chain. Exhausted
// retries and malformed responses both move on to the next provider.
func (c *Client) Analyze(ctx context.Context, src domain.Source, item domain.RawItem) (domain.AnalysisResult, error) {
	req := c.prompts.single(item, src.OwnerID)
	withOwner := item.HasOwnerContent(src.OwnerID)

	var causes []error
	for _, b := range c.backends {
		name := b.Provider.Name()

		text, err := c.complete(ctx, b, req, "single")
		if err != nil {
			c.log.Warn("Provider failed",
				"source", src.ID, "item", item.ItemID, "provider", name, "error", err)
			causes = append(causes, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res, err := parseSingle(text, item.ItemID, withOwner)
		if err != nil {
			metrics.ProviderCalls.WithLabelValues(name, "single", "parse_error").Inc()
			c.log.Warn("Unparseable provider response",
				"source", src.ID, "item", item.ItemID, "provider", name, "error", err)
			causes = append(causes, fmt.Errorf("%s: %w", name, err))
			continue
		}

		res.ProviderUsed = name
		return res, nil
	}

	if len(causes) == 0 {
		causes = append(causes, errors.New("no providers configured"))
	}
	return domain.AnalysisResult{}, fmt.Errorf("item %s: %w: %w",
		item.ItemID, domain.ErrAnalysisUnavailable, errors.Join(causes...))
}

// AnalyzeBatch sends items as one prompt to each batch-capable provider in
// order. Results are in input order and carry every item id exactly once.
func (c *Client) AnalyzeBatch(ctx context.Context, src domain.Source, items []domain.RawItem) (BatchOutcome, error) {
	req := c.prompts.batch(items, src.OwnerID)
	req.MaxTokens = c.batchTokens(len(items))

	batchErr := &BatchError{Items: len(items)}
	for _, b := range c.backends {
		if !b.Batch {
			continue
		}
		name := b.Provider.Name()

		text, err := c.complete(ctx, b, req, "batch")
		if err != nil {
			c.log.Warn("Provider failed batch",
				"source", src.ID, "items", len(items), "provider", name, "error", err)
			batchErr.Causes = append(batchErr.Causes, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		results, err := parseBatch(text, items, src.OwnerID)
		if err != nil {
			metrics.ProviderCalls.WithLabelValues(name, "batch", "parse_error").Inc()
			c.log.Warn("Unparseable batch response",
				"source", src.ID, "items", len(items), "provider", name, "error", err)
			batchErr.Causes = append(batchErr.Causes, fmt.Errorf("%s: %w", name, err))
			continue
		}

		for i := range results {
			results[i].ProviderUsed = name
		}
		return BatchOutcome{Results: results, Provider: name}, nil
	}

	if len(batchErr.Causes) == 0 {
		batchErr.Causes = append(batchErr.Causes, ErrNoBatchProviders)
	}
	return BatchOutcome{}, batchErr
}

// batchTokens scales the response budget with the batch size.
func (c *Client) batchTokens(n int) int {
	const perItem = 400
	return max(1000, n*perItem)
}

func (c *Client) complete(ctx context.Context, b Backend, req llm.Request, mode string) (string, error) {
	name := b.Provider.Name()
	text, err := retry.Do(ctx, b.Retry, func(ctx context.Context) (string, error) {
		if b.Pace != nil {
			if err := b.Pace.Wait(ctx); err != nil {
				return "", err
			}
		}
		return b.Provider.Complete(ctx, req)
	})

	outcome := "ok"
	switch {
	case err == nil:
	case retry.IsExhausted(err):
		outcome = "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(name, mode, outcome).Inc()
	return text, err
}
