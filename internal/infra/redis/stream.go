package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AppendStream adds one entry to the named stream, trimming it to roughly maxLen entries.
func (c *Client) AppendStream(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: c.streamKey(stream),
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// ReadStream returns every entry of the named stream. Meant for tooling and tests.
func (c *Client) ReadStream(ctx context.Context, stream string) ([]redis.XMessage, error) {
	return c.rdb.XRange(ctx, c.streamKey(stream), "-", "+").Result()
}
