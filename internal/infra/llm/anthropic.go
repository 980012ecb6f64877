package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

type anthropicProvider struct {
	httpProvider
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func newAnthropic(cfg Config) *anthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &anthropicProvider{httpProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}}
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	payload := anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.maxTokens(req),
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := p.postJSON(ctx, p.cfg.BaseURL+"/v1/messages", headers, payload, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", emptyOutput(p.cfg.Name)
	}
	return b.String(), nil
}
