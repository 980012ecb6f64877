// Package pipeline drives one source through fetch, filter, analyze and
// commit, one bounded window at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/groupwatch/internal/core/cursor"
	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/emitter"
	"github.com/vietddude/groupwatch/internal/indexing/filter"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

// Fetcher yields items strictly after a cursor, ascending.
type Fetcher interface {
	FetchSince(ctx context.Context, src domain.Source, cur domain.Cursor) iter.Seq2[domain.RawItem, error]
}

// Analyzer returns exactly one result per item, in item order.
type Analyzer interface {
	Analyze(ctx context.Context, src domain.Source, items []domain.RawItem) []domain.AnalysisResult
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fetcher  Fetcher
	Filter   filter.Filter
	Analyzer Analyzer
	Cursors  cursor.Store
	Sink     emitter.ReportSink
}

// Config holds orchestrator settings.
type Config struct {
	// WindowSize bounds how many items are analyzed and committed together.
	WindowSize int
}

// Summary describes one run of a source.
type Summary struct {
	RunID      string
	SourceID   string
	Start      domain.Cursor
	End        domain.Cursor
	Windows    int
	Fetched    int
	Filtered   int
	Analyzed   int
	Degraded   int
	Failed     int
	Partial    bool
	SinkErrors []error
	Duration   time.Duration
}

// Orchestrator runs the pipeline for a single source. Runs of the same
// Orchestrator must not overlap.
type Orchestrator struct {
	src  domain.Source
	deps Deps
	cfg  Config

	mu           sync.RWMutex
	state        State
	onTransition func(Transition)

	log *slog.Logger
}

// New creates an Orchestrator for src.
func New(src domain.Source, deps Deps, cfg Config) *Orchestrator {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 25
	}
	if deps.Filter == nil {
		deps.Filter = filter.PassAll{}
	}
	return &Orchestrator{
		src:   src,
		deps:  deps,
		cfg:   cfg,
		state: StateIdle,
		log:   slog.Default().With("source", src.ID),
	}
}

// OnTransition registers fn to observe every state change.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTransition = fn
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Source returns the source this orchestrator runs.
func (o *Orchestrator) Source() domain.Source { return o.src }

// Run processes everything new since the stored cursor. Cancelling ctx stops
// the run at the next window boundary: a window already being analyzed is
// emitted and committed first.
//
// A partial fetch commits what was gathered and returns the fetch error.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	sum := Summary{RunID: uuid.NewString(), SourceID: o.src.ID}

	sum, err := o.run(ctx, sum)
	sum.Duration = time.Since(started)

	outcome := "ok"
	switch {
	case err == nil:
	case sum.Partial:
		outcome = "partial"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "aborted"
	}
	metrics.PipelineRuns.WithLabelValues(o.src.ID, outcome).Inc()
	metrics.PipelineRunDuration.WithLabelValues(o.src.ID).Observe(sum.Duration.Seconds())

	o.log.Info("Run finished",
		"run", sum.RunID,
		"outcome", outcome,
		"windows", sum.Windows,
		"fetched", sum.Fetched,
		"filtered", sum.Filtered,
		"analyzed", sum.Analyzed,
		"degraded", sum.Degraded,
		"failed", sum.Failed,
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum, err
}

func (o *Orchestrator) run(ctx context.Context, sum Summary) (Summary, error) {
	o.transition(sum.RunID, StateFetching, "run started")

	cur, err := o.deps.Cursors.Load(ctx, o.src.ID)
	if err != nil {
		o.transition(sum.RunID, StateAborted, "load cursor failed")
		return sum, fmt.Errorf("source %s: %w", o.src.ID, err)
	}
	if cur.SourceID == "" {
		cur.SourceID = o.src.ID
	}
	sum.Start, sum.End = cur, cur

	next, stop := iter.Pull2(o.deps.Fetcher.FetchSince(ctx, o.src, cur))
	defer stop()

	for {
		window, done, fetchErr := o.fill(next)
		sum.Fetched += len(window)

		if len(window) > 0 {
			// The window finishes even if ctx is cancelled meanwhile.
			committed, err := o.process(context.WithoutCancel(ctx), &sum, window)
			if err != nil {
				o.transition(sum.RunID, StateAborted, err.Error())
				return sum, fmt.Errorf("source %s: %w", o.src.ID, err)
			}
			sum.End = committed
			sum.Windows++
		}

		switch {
		case fetchErr != nil:
			return o.finishWithFetchError(ctx, sum, fetchErr)
		case done:
			o.transition(sum.RunID, StateIdle, "caught up")
			return sum, nil
		case ctx.Err() != nil:
			o.transition(sum.RunID, StateIdle, "canceled")
			return sum, ctx.Err()
		}
		o.transition(sum.RunID, StateFetching, "next window")
	}
}

func (o *Orchestrator) finishWithFetchError(ctx context.Context, sum Summary, err error) (Summary, error) {
	switch {
	case errors.Is(err, domain.ErrPartialFetch):
		sum.Partial = true
		o.transition(sum.RunID, StateIdle, "partial fetch")
	case ctx.Err() != nil:
		o.transition(sum.RunID, StateIdle, "canceled")
		return sum, ctx.Err()
	default:
		o.transition(sum.RunID, StateAborted, "fetch failed")
	}
	return sum, fmt.Errorf("source %s: %w", o.src.ID, err)
}

// fill pulls up to WindowSize items. done reports that the sequence ended.
func (o *Orchestrator) fill(next func() (domain.RawItem, error, bool)) ([]domain.RawItem, bool, error) {
	window := make([]domain.RawItem, 0, o.cfg.WindowSize)
	for len(window) < o.cfg.WindowSize {
		item, err, ok := next()
		if !ok {
			return window, true, nil
		}
		if err != nil {
			return window, true, err
		}
		window = append(window, item)
	}
	return window, false, nil
}

// process filters, analyzes, emits and commits one window and returns the
// committed cursor.
func (o *Orchestrator) process(ctx context.Context, sum *Summary, window []domain.RawItem) (domain.Cursor, error) {
	o.transition(sum.RunID, StateFiltering, "")
	results, relevant, slots := o.screen(sum, window)

	o.transition(sum.RunID, StateAnalyzing, "")
	if err := o.analyze(ctx, sum, results, relevant, slots); err != nil {
		return domain.Cursor{}, err
	}

	o.transition(sum.RunID, StateCommitting, "")
	records := make([]domain.AnalyzedRecord, len(window))
	for i, item := range window {
		records[i] = domain.AnalyzedRecord{Item: item, Result: results[i]}
	}
	if o.deps.Sink != nil {
		if err := o.deps.Sink.Emit(ctx, o.src, records); err != nil {
			metrics.SinkErrors.WithLabelValues(o.deps.Sink.Name()).Inc()
			sum.SinkErrors = append(sum.SinkErrors, err)
		}
	}

	last := window[0]
	for _, item := range window[1:] {
		if domain.ComparePosition(item.Timestamp, item.ItemID, last.Timestamp, last.ItemID) > 0 {
			last = item
		}
	}
	next := domain.CursorAt(last)
	next.SourceID = o.src.ID
	if err := o.deps.Cursors.Commit(ctx, next); err != nil {
		return domain.Cursor{}, fmt.Errorf("commit cursor at item %s: %w", last.ItemID, err)
	}
	return next, nil
}

// Assess filters and analyzes items without emitting or committing. It
// does not change the orchestrator state.
func (o *Orchestrator) Assess(ctx context.Context, items []domain.RawItem) ([]domain.AnalyzedRecord, Summary, error) {
	sum := Summary{SourceID: o.src.ID, Fetched: len(items)}
	results, relevant, slots := o.screen(&sum, items)
	if err := o.analyze(ctx, &sum, results, relevant, slots); err != nil {
		return nil, sum, fmt.Errorf("source %s: %w", o.src.ID, err)
	}
	records := make([]domain.AnalyzedRecord, len(items))
	for i, item := range items {
		records[i] = domain.AnalyzedRecord{Item: item, Result: results[i]}
	}
	return records, sum, nil
}

// screen fills results for rejected items and returns the relevant ones
// with their positions in window.
func (o *Orchestrator) screen(sum *Summary, window []domain.RawItem) ([]domain.AnalysisResult, []domain.RawItem, []int) {
	results := make([]domain.AnalysisResult, len(window))
	var (
		relevant []domain.RawItem
		slots    []int
	)
	for i, item := range window {
		if o.deps.Filter.IsRelevant(item) {
			relevant = append(relevant, item)
			slots = append(slots, i)
			continue
		}
		results[i] = domain.NotFinancialResult(item.ItemID)
	}
	filtered := len(window) - len(relevant)
	sum.Filtered += filtered
	metrics.ItemsFiltered.WithLabelValues(o.src.ID).Add(float64(filtered))
	return results, relevant, slots
}

func (o *Orchestrator) analyze(ctx context.Context, sum *Summary, results []domain.AnalysisResult, relevant []domain.RawItem, slots []int) error {
	if len(relevant) == 0 {
		return nil
	}
	analyzed := o.deps.Analyzer.Analyze(ctx, o.src, relevant)
	if len(analyzed) != len(relevant) {
		return fmt.Errorf("analyzer returned %d results for %d items", len(analyzed), len(relevant))
	}
	for j, res := range analyzed {
		if res.ItemID != relevant[j].ItemID {
			return fmt.Errorf("analyzer returned result for item %s in place of %s", res.ItemID, relevant[j].ItemID)
		}
		results[slots[j]] = res
		o.countResult(sum, res)
	}
	return nil
}

func (o *Orchestrator) countResult(sum *Summary, res domain.AnalysisResult) {
	switch {
	case res.Failed():
		sum.Failed++
		metrics.AnalysisFailures.WithLabelValues(o.src.ID).Inc()
		return
	case res.Degraded:
		sum.Degraded++
	}
	sum.Analyzed++
	metrics.ItemsAnalyzed.WithLabelValues(o.src.ID, res.ProviderUsed, strconv.FormatBool(res.Degraded)).Inc()
}

func (o *Orchestrator) transition(runID string, to State, reason string) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		o.mu.Unlock()
		o.log.Error("Invalid pipeline transition", "from", from, "to", to, "error", ErrInvalidTransition)
		return
	}
	o.state = to
	fn := o.onTransition
	o.mu.Unlock()

	o.log.Debug("Pipeline state", "run", runID, "from", from, "to", to, "reason", reason)
	if fn != nil {
		fn(NewTransition(o.src.ID, runID, from, to, reason))
	}
}
