// Package zsxq is the HTTP client for the discussion-group API.
package zsxq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.zsxq.com/v2"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Upstream business codes.
	codeUnauthorized = 401
	codeTooFrequent  = 1059
)

// Config holds client settings.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	PageSize        int
	CommentPageSize int
}

// Page is one listing page, newest first.
type Page struct {
	Items   []domain.RawItem
	HasMore bool
	// Skipped counts topics dropped because they could not be parsed.
	Skipped int
}

// APIError is a classified upstream failure. It unwraps to one of
// domain.ErrTransient, domain.ErrPermanent or domain.ErrAuthExpired.
type APIError struct {
	Endpoint string
	Status   int
	Code     int
	Message  string
	kind     error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: http %d, code %d: %s", e.Endpoint, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Client talks to the upstream API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client with defaults filled in.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 20
	}
	if cfg.CommentPageSize == 0 {
		cfg.CommentPageSize = 30
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default(),
	}
}

// BaseURL returns the API root, used to key rate limiters by host.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// ListTopics returns the page of topics created strictly before endTime
// (the newest page when endTime is zero).
func (c *Client) ListTopics(ctx context.Context, creds domain.Credentials, groupID string, endTime time.Time) (Page, error) {
	q := url.Values{}
	q.Set("scope", "all")
	q.Set("count", strconv.Itoa(c.cfg.PageSize))
	if !endTime.IsZero() {
		q.Set("end_time", FormatTime(endTime))
	}

	var data topicsData
	if err := c.get(ctx, creds, "topics", "/groups/"+url.PathEscape(groupID)+"/topics", q, &data); err != nil {
		return Page{}, err
	}

	page := Page{HasMore: len(data.Topics) > 0}
	for _, t := range data.Topics {
		item, err := toItem(groupID, t)
		if err != nil {
			c.log.Warn("Skipping unparsable topic", "group", groupID, "error", err)
			page.Skipped++
			continue
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// ListComments returns a topic's comments in ascending order.
func (c *Client) ListComments(ctx context.Context, creds domain.Credentials, topicID string) ([]domain.Comment, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(c.cfg.CommentPageSize))
	q.Set("sort", "asc")

	var data commentsData
	if err := c.get(ctx, creds, "comments", "/topics/"+url.PathEscape(topicID)+"/comments", q, &data); err != nil {
		return nil, err
	}

	out := make([]domain.Comment, 0, len(data.Comments))
	for _, cm := range data.Comments {
		out = append(out, toComment(cm))
	}
	return out, nil
}

// CheckSession verifies the credentials against the current-user endpoint.
func (c *Client) CheckSession(ctx context.Context, creds domain.Credentials) error {
	return c.get(ctx, creds, "self", "/users/self", nil, nil)
}

func (c *Client) get(
	ctx context.Context,
	creds domain.Credentials,
	endpoint, path string,
	q url.Values,
	out any,
) error {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w: %w", domain.ErrPermanent, err)
	}
	req.Header.Set("Cookie", cookieHeader(creds))
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", "https://wx.zsxq.com")
	req.Header.Set("Referer", "https://wx.zsxq.com/")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "network_error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s request: %w: %w", endpoint, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "network_error").Inc()
		return fmt.Errorf("%s read response: %w: %w", endpoint, domain.ErrTransient, err)
	}

	if apiErr := classifyStatus(endpoint, resp.StatusCode, body); apiErr != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, outcome(apiErr)).Inc()
		return apiErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "bad_response").Inc()
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Message: "invalid json: " + err.Error(), kind: domain.ErrPermanent}
	}
	if !env.Succeeded {
		apiErr := classifyCode(endpoint, resp.StatusCode, env)
		metrics.UpstreamRequests.WithLabelValues(endpoint, outcome(apiErr)).Inc()
		return apiErr
	}

	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	if out == nil || len(env.RespData) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.RespData, out); err != nil {
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Message: "invalid resp_data: " + err.Error(), kind: domain.ErrPermanent}
	}
	return nil
}

func classifyStatus(endpoint string, status int, body []byte) *APIError {
	if status == http.StatusOK {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	e := &APIError{Endpoint: endpoint, Status: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.kind = domain.ErrAuthExpired
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		e.kind = domain.ErrTransient
	default:
		e.kind = domain.ErrPermanent
	}
	return e
}

func classifyCode(endpoint string, status int, env envelope) *APIError {
	msg := env.Info
	if msg == "" {
		msg = env.Error
	}
	e := &APIError{Endpoint: endpoint, Status: status, Code: env.Code, Message: msg}
	switch env.Code {
	case codeUnauthorized:
		e.kind = domain.ErrAuthExpired
	case codeTooFrequent:
		e.kind = domain.ErrTransient
	default:
		// Unknown codes are retried; persistent ones end as retry exhaustion.
		e.kind = domain.ErrTransient
	}
	return e
}

func outcome(e *APIError) string {
	switch {
	case errors.Is(e, domain.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(e, domain.ErrTransient):
		return "transient"
	default:
		return "permanent"
	}
}

func cookieHeader(creds domain.Credentials) string {
	keys := make([]string, 0, len(creds.Cookies))
	for k := range creds.Cookies {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+creds.Cookies[k])
	}
	return strings.Join(parts, "; ")
}
