// Package emitter delivers analyzed records to report destinations.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

// ReportSink receives the records of one committed window.
type ReportSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Emit delivers records in item order.
	Emit(ctx context.Context, src domain.Source, records []domain.AnalyzedRecord) error
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink struct {
	sinks []ReportSink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...ReportSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

// Emit calls every sink even when an earlier one fails.
func (m *MultiSink) Emit(ctx context.Context, src domain.Source, records []domain.AnalyzedRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, src, records); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink logs a line per financial record and a summary per window.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink writing to l, or slog.Default when nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, src domain.Source, records []domain.AnalyzedRecord) error {
	var financial, degraded, failed int
	for _, r := range records {
		switch {
		case r.Result.Failed():
			failed++
		case r.Result.Degraded:
			degraded++
		}
		if !r.Result.IsFinancial {
			continue
		}
		financial++
		s.log.Info("Financial post",
			"source", src.ID,
			"item", r.Item.ItemID,
			"author", r.Item.AuthorName,
			"product", r.Result.ProductType,
			"instruments", r.Result.Instruments,
			"sentiment", r.Result.Sentiment,
			"provider", r.Result.ProviderUsed,
		)
	}
	s.log.Info("Window emitted",
		"source", src.ID,
		"records", len(records),
		"financial", financial,
		"degraded", degraded,
		"failed", failed,
	)
	return nil
}
