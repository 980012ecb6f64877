package config

import (
	"time"

	redisclient "github.com/vietddude/groupwatch/internal/infra/redis"
	"github.com/vietddude/groupwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Upstream UpstreamConfig     `yaml:"upstream"`
	Sources  []SourceConfig     `yaml:"sources"`
	Session  SessionConfig      `yaml:"session"`
	Analysis AnalysisConfig     `yaml:"analysis"`
	Storage  StorageConfig      `yaml:"storage"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Report   ReportConfig       `yaml:"report"`
	Notify   NotifyConfig       `yaml:"notify"`
	Watch    WatchConfig        `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// RetryConfig is the yaml form of a retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// UpstreamConfig describes the discussion-group API.
type UpstreamConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PageSize          int           `yaml:"page_size"`
	CommentPageSize   int           `yaml:"comment_page_size"`
	Jitter            time.Duration `yaml:"jitter"` // extra random pause after each acquisition
	Retry             RetryConfig   `yaml:"retry"`
}

// SourceConfig holds settings for one discussion group.
type SourceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	OwnerID   string `yaml:"owner_id"`
	StartDate string `yaml:"start_date"` // YYYY-MM-DD floor for the first run
	EndDate   string `yaml:"end_date"`
}

// SessionConfig controls cookie loading and re-login.
type SessionConfig struct {
	CookiePath   string        `yaml:"cookie_path"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ProviderConfig holds settings for one LLM backend.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"` // anthropic, openai
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
	Batch       bool          `yaml:"batch"`
	Retry       RetryConfig   `yaml:"retry"`
}

// AnalysisConfig controls filtering, batching and the provider chain.
type AnalysisConfig struct {
	WindowSize     int              `yaml:"window_size"`
	MaxBatchSize   int              `yaml:"max_batch_size"`
	MaxTextRunes   int              `yaml:"max_text_runes"`
	Keywords       []string         `yaml:"keywords"`
	Patterns       []string         `yaml:"patterns"`
	DisableFilter  bool             `yaml:"disable_filter"`
	Providers      []ProviderConfig `yaml:"providers"`
	MaxConcurrency int              `yaml:"max_concurrent_sources"`
}

// StorageConfig selects the cursor backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // file, memory, redis, postgres
	Path   string `yaml:"path"`
}

// ReportConfig controls report sinks.
type ReportConfig struct {
	CSVDir      string        `yaml:"csv_dir"`
	RedisStream string        `yaml:"redis_stream"`
	Retention   time.Duration `yaml:"retention"`
}

// NotifyConfig holds the operator notification channel.
type NotifyConfig struct {
	WeComWebhook string        `yaml:"wecom_webhook"`
	Timeout      time.Duration `yaml:"timeout"`
}

// WatchConfig controls the periodic mode.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`

	// Adaptive shortens the interval while groups are busy, down to MinInterval.
	Adaptive    bool          `yaml:"adaptive"`
	MinInterval time.Duration `yaml:"min_interval"`
}
