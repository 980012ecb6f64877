package llm

import (
	"context"
	"net/http"
	"strings"
)

const openAIBaseURL = "https://api.openai.com/v1"

type openAIProvider struct {
	httpProvider
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func newOpenAI(cfg Config) *openAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openAIProvider{httpProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}}
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:     p.cfg.Model,
		Messages:  messages,
		MaxTokens: p.maxTokens(req),
	}
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}

	var resp chatResponse
	if err := p.postJSON(ctx, p.cfg.BaseURL+"/chat/completions", headers, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", emptyOutput(p.cfg.Name)
	}
	return resp.Choices[0].Message.Content, nil
}
