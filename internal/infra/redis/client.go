package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection shared by the cursor store and the report stream.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRDB(rdb, cfg.KeyPrefix), nil
}

// NewFromRDB wraps an existing go-redis client.
func NewFromRDB(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "groupwatch"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func (c *Client) cursorKey(sourceID string) string {
	return fmt.Sprintf("%s:cursor:%s", c.prefix, sourceID)
}

func (c *Client) cursorPattern() string {
	return c.prefix + ":cursor:*"
}

func (c *Client) streamKey(name string) string {
	return fmt.Sprintf("%s:%s", c.prefix, name)
}
