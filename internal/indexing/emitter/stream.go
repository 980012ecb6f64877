package emitter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/redis"
)

// StreamSink appends each record to a Redis stream as a JSON payload.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink creates a sink writing to stream, trimmed to about maxLen
// entries when maxLen > 0.
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Name() string { return "redis_stream" }

func (s *StreamSink) Emit(ctx context.Context, src domain.Source, records []domain.AnalyzedRecord) error {
	batchID := uuid.NewString()
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.Item.ItemID, err)
		}
		values := map[string]any{
			"batch_id":     batchID,
			"source":       src.ID,
			"item_id":      r.Item.ItemID,
			"is_financial": r.Result.IsFinancial,
			"record":       string(payload),
		}
		if _, err := s.client.AppendStream(ctx, s.stream, s.maxLen, values); err != nil {
			return fmt.Errorf("append record %s: %w", r.Item.ItemID, err)
		}
	}
	return nil
}
