// Package llm holds minimal clients for chat-style completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

// Provider kinds accepted in configuration.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

// Request is a single-turn completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Provider turns a prompt into text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config describes one provider endpoint.
type Config struct {
	Name      string
	Kind      string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// New builds a provider for cfg.Kind. OpenAI-compatible services such as
// Moonshot or DeepSeek use KindOpenAI with their own BaseURL.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}

	switch strings.ToLower(cfg.Kind) {
	case KindAnthropic, "claude":
		return newAnthropic(cfg), nil
	case KindOpenAI, "moonshot", "deepseek", "openai_compatible":
		return newOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider string
	Status   int
	Body     string
	kind     error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: status %d: %s", e.Provider, e.kind, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == 529,
		status >= 500:
		return domain.ErrTransient
	default:
		return domain.ErrPermanent
	}
}

// httpProvider carries what both API flavours share.
type httpProvider struct {
	cfg    Config
	client *http.Client
}

func (p *httpProvider) Name() string { return p.cfg.Name }

func (p *httpProvider) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.cfg.MaxTokens
}

// postJSON sends payload to url and decodes a 2xx body into out.
func (p *httpProvider) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w: %w", p.cfg.Name, domain.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w: %w", p.cfg.Name, domain.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	metrics.ProviderLatency.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: request: %w: %w", p.cfg.Name, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %w", p.cfg.Name, domain.ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Provider: p.cfg.Name,
			Status:   resp.StatusCode,
			Body:     truncate(string(raw), 512),
			kind:     classifyStatus(resp.StatusCode),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w: %w", p.cfg.Name, domain.ErrPermanent, err)
	}
	return nil
}

func emptyOutput(name string) error {
	return fmt.Errorf("%s: empty completion: %w", name, domain.ErrPermanent)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
