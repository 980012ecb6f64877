package analysis

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// Analyzer is the provider-chain surface BatchAnalyzer depends on.
type Analyzer interface {
	Analyze(ctx context.Context, src domain.Source, item domain.RawItem) (domain.AnalysisResult, error)
	AnalyzeBatch(ctx context.Context, src domain.Source, items []domain.RawItem) (BatchOutcome, error)
}

// BatchAnalyzer analyzes a window of items and guarantees one result per
// item, in input order.
type BatchAnalyzer struct {
	client   Analyzer
	maxBatch int
	log      *slog.Logger
}

// NewBatchAnalyzer creates a BatchAnalyzer sending at most maxBatch items
// per provider request.
func NewBatchAnalyzer(client Analyzer, maxBatch int) *BatchAnalyzer {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &BatchAnalyzer{client: client, maxBatch: maxBatch, log: slog.Default()}
}

// Analyze never fails: an item no provider could handle gets a terminal
// failure result.
func (a *BatchAnalyzer) Analyze(ctx context.Context, src domain.Source, items []domain.RawItem) []domain.AnalysisResult {
	results := make([]domain.AnalysisResult, 0, len(items))
	for chunk := range slices.Chunk(items, a.maxBatch) {
		results = append(results, a.analyzeChunk(ctx, src, chunk)...)
	}
	return results
}

func (a *BatchAnalyzer) analyzeChunk(ctx context.Context, src domain.Source, chunk []domain.RawItem) []domain.AnalysisResult {
	if len(chunk) == 1 {
		res, err := a.client.Analyze(ctx, src, chunk[0])
		if err != nil {
			a.log.Error("Analysis unavailable", "source", src.ID, "item", chunk[0].ItemID, "error", err)
			return []domain.AnalysisResult{domain.FailureResult(chunk[0].ItemID, err)}
		}
		return []domain.AnalysisResult{res}
	}

	outcome, err := a.client.AnalyzeBatch(ctx, src, chunk)
	if err == nil && len(outcome.Results) == len(chunk) {
		return outcome.Results
	}
	if errors.Is(err, ErrNoBatchProviders) {
		return a.singles(ctx, src, chunk, false)
	}
	a.log.Warn("Batch analysis failed, analyzing items individually",
		"source", src.ID, "items", len(chunk), "error", err)

	return a.singles(ctx, src, chunk, true)
}

// singles analyzes each item on its own. Results stand in for a failed
// batch call only when degraded is set.
func (a *BatchAnalyzer) singles(ctx context.Context, src domain.Source, chunk []domain.RawItem, degraded bool) []domain.AnalysisResult {
	results := make([]domain.AnalysisResult, 0, len(chunk))
	for _, item := range chunk {
		res, err := a.client.Analyze(ctx, src, item)
		if err != nil {
			a.log.Error("Analysis unavailable", "source", src.ID, "item", item.ItemID, "error", err)
			results = append(results, domain.FailureResult(item.ItemID, err))
			continue
		}
		res.Degraded = degraded
		results = append(results, res)
	}
	return results
}
