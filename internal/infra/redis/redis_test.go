package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromRDB(rdb, "gw"), mr
}

func TestCursorRepo_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	repo := NewCursorRepo(c)
	ctx := context.Background()

	_, err := repo.Get(ctx, "g1")
	require.True(t, errors.Is(err, storage.ErrCursorNotFound))

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, &domain.Cursor{SourceID: "g1", LastTimestamp: ts, LastItemID: "88"}))
	require.NoError(t, repo.Save(ctx, &domain.Cursor{SourceID: "g0", LastTimestamp: ts, LastItemID: "3"}))

	assert.True(t, mr.Exists("gw:cursor:g1"))

	got, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "88", got.LastItemID)
	assert.True(t, got.LastTimestamp.Equal(ts))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "g0", all[0].SourceID)
	assert.Equal(t, "g1", all[1].SourceID)

	require.NoError(t, repo.Delete(ctx, "g1"))
	_, err = repo.Get(ctx, "g1")
	assert.True(t, errors.Is(err, storage.ErrCursorNotFound))
}

func TestAppendStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.AppendStream(ctx, "records", 0, map[string]any{"item_id": "1", "sentiment": "bullish"})
	require.NoError(t, err)
	_, err = c.AppendStream(ctx, "records", 0, map[string]any{"item_id": "2", "sentiment": "bearish"})
	require.NoError(t, err)

	msgs, err := c.ReadStream(ctx, "records")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].Values["item_id"])
	assert.Equal(t, "bearish", msgs[1].Values["sentiment"])
}
