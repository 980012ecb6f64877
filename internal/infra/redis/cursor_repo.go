package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

type cursorValue struct {
	Timestamp time.Time `json:"timestamp"`
	ItemID    string    `json:"item_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CursorRepo stores each cursor as one JSON string; SET replaces it atomically.
type CursorRepo struct {
	c *Client
}

// NewCursorRepo creates a Redis-backed cursor repository.
func NewCursorRepo(c *Client) *CursorRepo {
	return &CursorRepo{c: c}
}

func (r *CursorRepo) Get(ctx context.Context, sourceID string) (*domain.Cursor, error) {
	val, err := r.c.rdb.Get(ctx, r.c.cursorKey(sourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor failed: %w", err)
	}
	return decodeCursor(sourceID, val)
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	updated := cursor.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	data, err := json.Marshal(cursorValue{
		Timestamp: cursor.LastTimestamp,
		ItemID:    cursor.LastItemID,
		UpdatedAt: updated,
	})
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := r.c.rdb.Set(ctx, r.c.cursorKey(cursor.SourceID), data, 0).Err(); err != nil {
		return fmt.Errorf("set cursor failed: %w", err)
	}
	return nil
}

func (r *CursorRepo) Delete(ctx context.Context, sourceID string) error {
	return r.c.rdb.Del(ctx, r.c.cursorKey(sourceID)).Err()
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	prefix := strings.TrimSuffix(r.c.cursorPattern(), "*")

	var out []*domain.Cursor
	iter := r.c.rdb.Scan(ctx, 0, r.c.cursorPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get cursor failed: %w", err)
		}
		cur, err := decodeCursor(strings.TrimPrefix(key, prefix), val)
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cursors failed: %w", err)
	}
	slices.SortFunc(out, func(a, b *domain.Cursor) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out, nil
}

func decodeCursor(sourceID, raw string) (*domain.Cursor, error) {
	var v cursorValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode cursor %s: %w", sourceID, err)
	}
	return &domain.Cursor{
		SourceID:      sourceID,
		LastTimestamp: v.Timestamp,
		LastItemID:    v.ItemID,
		UpdatedAt:     v.UpdatedAt,
	}, nil
}
