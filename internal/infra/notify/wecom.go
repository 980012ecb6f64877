package notify

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoWebhook is returned when no webhook is configured.
var ErrNoWebhook = errors.New("wecom webhook not configured")

// WeCom posts to a WeCom group-bot webhook.
type WeCom struct {
	webhook    string
	httpClient *http.Client
}

// NewWeCom creates a WeCom notifier.
func NewWeCom(webhook string, timeout time.Duration) *WeCom {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeCom{
		webhook:    webhook,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (w *WeCom) NotifyText(ctx context.Context, text string) error {
	return w.post(ctx, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": text},
	})
}

func (w *WeCom) NotifyMarkdown(ctx context.Context, content string) error {
	return w.post(ctx, map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"content": content},
	})
}

// NotifyError sends an alert for a failed source run.
func (w *WeCom) NotifyError(ctx context.Context, sourceID, summary string) error {
	msg := fmt.Sprintf("⚠️ groupwatch alert\n\nsource: %s\nerror: %s\n\nPlease check.", sourceID, summary)
	return w.NotifyText(ctx, msg)
}

// NotifyQRCode sends a login QR image.
func (w *WeCom) NotifyQRCode(ctx context.Context, image []byte) error {
	sum := md5.Sum(image)
	return w.post(ctx, map[string]any{
		"msgtype": "image",
		"image": map[string]string{
			"base64": base64.StdEncoding.EncodeToString(image),
			"md5":    hex.EncodeToString(sum[:]),
		},
	})
}

func (w *WeCom) post(ctx context.Context, payload map[string]any) error {
	if w.webhook == "" {
		return ErrNoWebhook
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook http %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("webhook errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
