package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DateLayout is the format of start_date / end_date.
const DateLayout = "2006-01-02"

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	up := &cfg.Upstream
	if up.BaseURL == "" {
		up.BaseURL = "https://api.zsxq.com/v2"
	}
	if up.RequestsPerWindow == 0 {
		up.RequestsPerWindow = 20
	}
	if up.Window == 0 {
		up.Window = time.Minute
	}
	if up.RequestTimeout == 0 {
		up.RequestTimeout = 10 * time.Second
	}
	if up.PageSize == 0 {
		up.PageSize = 20
	}
	if up.CommentPageSize == 0 {
		up.CommentPageSize = 30
	}
	if up.Retry.MaxAttempts == 0 {
		up.Retry.MaxAttempts = 3
	}
	if up.Retry.BaseDelay == 0 {
		up.Retry.BaseDelay = time.Second
	}

	if cfg.Session.CookiePath == "" {
		cfg.Session.CookiePath = "data/cookies.json"
	}
	if cfg.Session.LoginTimeout == 0 {
		cfg.Session.LoginTimeout = 5 * time.Minute
	}
	if cfg.Session.PollInterval == 0 {
		cfg.Session.PollInterval = 2 * time.Second
	}

	an := &cfg.Analysis
	if an.WindowSize == 0 {
		an.WindowSize = 25
	}
	if an.MaxBatchSize == 0 {
		an.MaxBatchSize = 5
	}
	if an.MaxTextRunes == 0 {
		an.MaxTextRunes = 2000
	}
	if an.MaxConcurrency == 0 {
		an.MaxConcurrency = 4
	}
	for i := range an.Providers {
		p := &an.Providers[i]
		if p.Kind == "" {
			p.Kind = "anthropic"
		}
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.Model == "" && p.Kind == "anthropic" {
			p.Model = "claude-3-sonnet-20240229"
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 1000
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		if p.Retry.MaxAttempts == 0 {
			p.Retry.MaxAttempts = 5
		}
		if p.Retry.BaseDelay == 0 {
			p.Retry.BaseDelay = 10 * time.Second
		}
		if p.Retry.MaxDelay == 0 {
			p.Retry.MaxDelay = 120 * time.Second
		}
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Driver == "file" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/cursors.json"
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
	if cfg.Watch.Interval == 0 {
		cfg.Watch.Interval = time.Hour
	}
	if cfg.Watch.MinInterval == 0 {
		cfg.Watch.MinInterval = min(5*time.Minute, cfg.Watch.Interval)
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate id %s", i, s.ID))
		}
		seen[s.ID] = true
		if _, err := ParseDate(s.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: start_date: %w", i, err))
		}
		if _, err := ParseDate(s.EndDate); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: end_date: %w", i, err))
		}
	}
	for i, p := range c.Analysis.Providers {
		if p.Kind != "anthropic" && p.Kind != "openai" {
			errs = append(errs, fmt.Errorf("analysis.providers[%d]: unknown kind %q", i, p.Kind))
		}
	}
	switch c.Storage.Driver {
	case "file", "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("storage.driver redis requires redis.url"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("storage.driver postgres requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Analysis.MaxBatchSize < 1 || c.Analysis.WindowSize < 1 {
		errs = append(errs, errors.New("analysis window_size and max_batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// ParseDate parses an optional YYYY-MM-DD date in local time. Empty input yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(DateLayout, s, time.Local)
}
