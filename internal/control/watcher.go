package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/groupwatch/internal/core/config"
	"github.com/vietddude/groupwatch/internal/core/cursor"
	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/core/worker"
	"github.com/vietddude/groupwatch/internal/indexing/analysis"
	"github.com/vietddude/groupwatch/internal/indexing/emitter"
	"github.com/vietddude/groupwatch/internal/indexing/fetcher"
	"github.com/vietddude/groupwatch/internal/indexing/filter"
	"github.com/vietddude/groupwatch/internal/indexing/health"
	"github.com/vietddude/groupwatch/internal/indexing/pipeline"
	"github.com/vietddude/groupwatch/internal/indexing/throttle"
	"github.com/vietddude/groupwatch/internal/infra/llm"
	"github.com/vietddude/groupwatch/internal/infra/notify"
	"github.com/vietddude/groupwatch/internal/infra/ratelimit"
	redisclient "github.com/vietddude/groupwatch/internal/infra/redis"
	"github.com/vietddude/groupwatch/internal/infra/retry"
	"github.com/vietddude/groupwatch/internal/infra/session"
	"github.com/vietddude/groupwatch/internal/infra/storage"
	"github.com/vietddude/groupwatch/internal/infra/storage/file"
	"github.com/vietddude/groupwatch/internal/infra/storage/memory"
	"github.com/vietddude/groupwatch/internal/infra/storage/postgres"
	"github.com/vietddude/groupwatch/internal/infra/zsxq"
)

// ErrNoProviders is returned when analysis is requested without any provider.
var ErrNoProviders = errors.New("no analysis providers configured")

// Config holds the application configuration plus per-invocation overrides.
type Config struct {
	config.AppConfig

	// Only restricts the watcher to these source ids. Empty means all.
	Only []string
	// StartDate and EndDate (YYYY-MM-DD) override every source's range.
	StartDate string
	EndDate   string
}

// RunResult is the outcome of one source in a pass.
type RunResult struct {
	Summary pipeline.Summary
	Err     error
}

// Watcher is the main application struct that manages the pipeline lifecycle.
type Watcher struct {
	cfg       Config
	sources   []domain.Source
	pipelines map[string]*pipeline.Orchestrator
	fetchers  map[string]*fetcher.Fetcher
	cursors   *cursor.DefaultManager
	sink      emitter.ReportSink
	providers int

	digest       *emitter.DigestBuffer
	notifier     *notify.Async
	healthMon    *health.Monitor
	healthServer *health.Server
	pruner       *worker.Pruner
	pacer        *throttle.AdaptiveController
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	// passMu keeps passes from overlapping.
	passMu sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(cfg Config, opts ...Option) (*Watcher, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Watch.Interval <= 0 {
		cfg.Watch.Interval = time.Hour
	}
	log := slog.Default()
	w := &Watcher{
		cfg:       cfg,
		pipelines: make(map[string]*pipeline.Orchestrator),
		fetchers:  make(map[string]*fetcher.Fetcher),
		log:       log,
	}

	sources, err := selectSources(cfg)
	if err != nil {
		return nil, err
	}

	// 1. Storage
	repo := o.cursorRepo
	if repo == nil {
		repo, err = w.openStorage()
		if err != nil {
			w.close()
			return nil, err
		}
	}
	w.cursors = cursor.NewManager(repo)

	// 2. Notifications
	inner := o.notifier
	if inner == nil {
		if cfg.Notify.WeComWebhook != "" {
			inner = notify.NewWeCom(cfg.Notify.WeComWebhook, cfg.Notify.Timeout)
		} else {
			inner = notify.Nop{}
		}
	}
	w.notifier = notify.NewAsync(inner, cfg.Notify.Timeout)

	// 3. Upstream, session and rate limit
	client := zsxq.NewClient(zsxq.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		Timeout:         cfg.Upstream.RequestTimeout,
		PageSize:        cfg.Upstream.PageSize,
		CommentPageSize: cfg.Upstream.CommentPageSize,
	})
	var upstream fetcher.Upstream = client
	if o.upstream != nil {
		upstream = o.upstream
	}
	var sessions fetcher.SessionProvider
	if o.sessions != nil {
		sessions = o.sessions
	} else {
		sessions = session.NewCookieProvider(session.Config{
			CookiePath:   cfg.Session.CookiePath,
			LoginTimeout: cfg.Session.LoginTimeout,
			PollInterval: cfg.Session.PollInterval,
		}, client, w.notifier, nil)
	}
	limiter := o.limiter
	if limiter == nil {
		limiter, err = ratelimit.NewRegistry(
			cfg.Upstream.RequestsPerWindow,
			cfg.Upstream.Window,
			cfg.Upstream.Jitter,
		).ForURL(client.BaseURL())
		if err != nil {
			w.close()
			return nil, fmt.Errorf("upstream rate limiter: %w", err)
		}
	}
	fetchRetry := retry.NewExecutor("fetch", policyFrom(cfg.Upstream.Retry, retry.DefaultFetchPolicy))
	base := fetcher.New(upstream, sessions, limiter, fetchRetry, fetcher.Config{FetchComments: true})

	// 4. Analysis
	backends := o.backends
	if backends == nil {
		backends, err = buildBackends(cfg.Analysis.Providers)
		if err != nil {
			w.close()
			return nil, err
		}
	}
	w.providers = len(backends)
	analysisClient := analysis.NewClient(backends, analysis.WithMaxTextRunes(cfg.Analysis.MaxTextRunes))
	analyzer := analysis.NewBatchAnalyzer(analysisClient, cfg.Analysis.MaxBatchSize)

	var gate filter.Filter = filter.PassAll{}
	if !cfg.Analysis.DisableFilter {
		gate, err = filter.NewKeywordFilter(cfg.Analysis.Keywords, cfg.Analysis.Patterns)
		if err != nil {
			w.close()
			return nil, err
		}
	}

	// 5. Report sinks
	w.sink, err = w.buildSinks()
	if err != nil {
		w.close()
		return nil, err
	}

	// 6. Health
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	w.healthMon = health.NewMonitor(ids, w.cursors, 2*cfg.Watch.Interval)
	w.healthServer = health.NewServer(w.healthMon, cfg.Server.Port)
	pacing := throttle.DefaultConfig()
	pacing.Enabled = cfg.Watch.Adaptive
	pacing.MinInterval = cfg.Watch.MinInterval
	pacing.MaxInterval = cfg.Watch.Interval
	w.pacer = throttle.NewAdaptiveController(cfg.Watch.Interval, pacing)
	if cfg.Report.CSVDir != "" && cfg.Report.Retention > 0 {
		w.pruner = worker.NewPruner(cfg.Report.CSVDir, cfg.Report.Retention)
	}

	// 7. One pipeline per source
	for _, sc := range sources {
		fcfg, err := fetchRange(sc, cfg.StartDate, cfg.EndDate)
		if err != nil {
			w.close()
			return nil, err
		}
		src := domain.Source{ID: sc.ID, Name: sc.Name, OwnerID: sc.OwnerID}
		f := base.WithConfig(fcfg)
		p := pipeline.New(src, pipeline.Deps{
			Fetcher:  f,
			Filter:   gate,
			Analyzer: analyzer,
			Cursors:  w.cursors,
			Sink:     w.sink,
		}, pipeline.Config{WindowSize: cfg.Analysis.WindowSize})
		p.OnTransition(w.healthMon.ObserveTransition)

		w.sources = append(w.sources, src)
		w.fetchers[src.ID] = f
		w.pipelines[src.ID] = p
		log.Info("Source configured",
			"source", src.ID,
			"name", src.Name,
			"floor", fcfg.Floor,
			"ceiling", fcfg.Ceiling,
		)
	}

	log.Info("Watcher initialized",
		"sources", len(w.sources),
		"providers", analysisClient.Providers(),
		"storage", cfg.Storage.Driver,
	)
	return w, nil
}

// OpenCursors opens only the configured cursor storage, for operator
// commands that need no pipeline. The returned func releases connections.
func OpenCursors(cfg config.AppConfig) (cursor.Manager, func(), error) {
	w := &Watcher{cfg: Config{AppConfig: cfg}, log: slog.Default()}
	repo, err := w.openStorage()
	if err != nil {
		w.close()
		return nil, nil, err
	}
	return cursor.NewManager(repo), w.close, nil
}

func (w *Watcher) openStorage() (storage.CursorRepository, error) {
	switch w.cfg.Storage.Driver {
	case "memory":
		w.log.Info("Using Memory storage")
		return memory.NewCursorRepo(), nil
	case "redis":
		client, err := w.redis()
		if err != nil {
			return nil, err
		}
		w.log.Info("Using Redis storage")
		return redisclient.NewCursorRepo(client), nil
	case "postgres":
		db, err := postgres.NewDB(context.Background(), w.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		w.db = db
		if err := db.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		w.log.Info("Using PostgreSQL storage")
		return postgres.NewCursorRepo(db), nil
	default:
		w.log.Info("Using file storage", "path", w.cfg.Storage.Path)
		return file.NewCursorRepo(w.cfg.Storage.Path), nil
	}
}

func (w *Watcher) redis() (*redisclient.Client, error) {
	if w.redisClient != nil {
		return w.redisClient, nil
	}
	client, err := redisclient.NewClient(w.cfg.Redis)
	if err != nil {
		return nil, err
	}
	w.redisClient = client
	return client, nil
}

func (w *Watcher) buildSinks() (emitter.ReportSink, error) {
	sinks := []emitter.ReportSink{emitter.NewLogSink(w.log)}

	if dir := w.cfg.Report.CSVDir; dir != "" {
		csvSink, err := emitter.NewCSVSink(dir, time.Local)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}

	if stream := w.cfg.Report.RedisStream; stream != "" {
		if w.cfg.Redis.URL == "" {
			return nil, errors.New("report.redis_stream requires redis.url")
		}
		client, err := w.redis()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, emitter.NewStreamSink(client, stream, 0))
	}

	w.digest = emitter.NewDigestBuffer(w.notifier, 0)
	sinks = append(sinks, w.digest)
	return emitter.NewMultiSink(sinks...), nil
}

func buildBackends(providers []config.ProviderConfig) ([]analysis.Backend, error) {
	backends := make([]analysis.Backend, 0, len(providers))
	for _, pc := range providers {
		p, err := llm.New(llm.Config{
			Name:      pc.Name,
			Kind:      pc.Kind,
			APIKey:    pc.APIKey,
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
			Timeout:   pc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, analysis.Backend{
			Provider: p,
			Retry:    retry.NewExecutor("analysis:"+pc.Name, policyFrom(pc.Retry, retry.DefaultAnalysisPolicy)),
			Pace:     analysis.NewPace(pc.MinInterval),
			Batch:    pc.Batch,
		})
	}
	return backends, nil
}

func policyFrom(rc config.RetryConfig, def retry.Policy) retry.Policy {
	p := def
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	return p
}

func selectSources(cfg Config) ([]config.SourceConfig, error) {
	if len(cfg.Only) == 0 {
		return cfg.Sources, nil
	}
	var out []config.SourceConfig
	for _, id := range cfg.Only {
		i := slices.IndexFunc(cfg.Sources, func(s config.SourceConfig) bool { return s.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		out = append(out, cfg.Sources[i])
	}
	return out, nil
}

// fetchRange turns the configured dates into fetch bounds. The end date is
// inclusive, so the ceiling is the start of the following day.
func fetchRange(sc config.SourceConfig, startOverride, endOverride string) (fetcher.Config, error) {
	start, end := sc.StartDate, sc.EndDate
	if startOverride != "" {
		start = startOverride
	}
	if endOverride != "" {
		end = endOverride
	}
	floor, err := config.ParseDate(start)
	if err != nil {
		return fetcher.Config{}, fmt.Errorf("source %s: start date: %w", sc.ID, err)
	}
	ceiling, err := config.ParseDate(end)
	if err != nil {
		return fetcher.Config{}, fmt.Errorf("source %s: end date: %w", sc.ID, err)
	}
	if !ceiling.IsZero() {
		ceiling = ceiling.AddDate(0, 0, 1)
	}
	if !floor.IsZero() && !ceiling.IsZero() && !floor.Before(ceiling) {
		return fetcher.Config{}, fmt.Errorf("source %s: start date %s is after end date %s", sc.ID, start, end)
	}
	return fetcher.Config{Floor: floor, Ceiling: ceiling, FetchComments: true}, nil
}

// Sources returns the sources this watcher runs.
func (w *Watcher) Sources() []domain.Source {
	return slices.Clone(w.sources)
}

// Cursors exposes the cursor manager for operator commands.
func (w *Watcher) Cursors() cursor.Manager {
	return w.cursors
}

// Health returns the current per-source health.
func (w *Watcher) Health(ctx context.Context) map[string]health.SourceHealth {
	return w.healthMon.CheckHealth(ctx)
}

// RunOnce runs every source once, concurrently up to the configured limit.
// A failing source does not stop the others; the returned error joins every
// source failure.
func (w *Watcher) RunOnce(ctx context.Context) ([]RunResult, error) {
	if w.providers == 0 {
		return nil, ErrNoProviders
	}
	w.passMu.Lock()
	defer w.passMu.Unlock()

	results := make([]RunResult, len(w.sources))
	var g errgroup.Group
	g.SetLimit(max(w.cfg.Analysis.MaxConcurrency, 1))
	for i, src := range w.sources {
		g.Go(func() error {
			results[i] = w.runSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	w.notifyPass(ctx, results)
	return results, errors.Join(errs...)
}

func (w *Watcher) runSource(ctx context.Context, src domain.Source) RunResult {
	p := w.pipelines[src.ID]
	sum, err := p.Run(ctx)
	w.healthMon.RecordRun(sum, err)

	for _, sinkErr := range sum.SinkErrors {
		w.log.Warn("Report sink failed", "source", src.ID, "run", sum.RunID, "error", sinkErr)
	}

	flushCtx := context.WithoutCancel(ctx)
	if p.State() == pipeline.StateAborted {
		// Emitted but uncommitted records come back on the next run.
		w.digest.Discard(src.ID)
	} else if ferr := w.digest.Flush(flushCtx, src.ID); ferr != nil {
		w.log.Warn("Digest notification failed", "source", src.ID, "error", ferr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		w.log.Error("Source run failed", "source", src.ID, "run", sum.RunID, "partial", sum.Partial, "error", err)
		_ = w.notifier.NotifyError(flushCtx, src.ID, err.Error())
	}
	return RunResult{Summary: sum, Err: err}
}

func (w *Watcher) notifyPass(ctx context.Context, results []RunResult) {
	var analyzed, failed, errored int
	for _, r := range results {
		analyzed += r.Summary.Analyzed
		failed += r.Summary.Failed
		if r.Err != nil {
			errored++
		}
	}
	if analyzed == 0 && failed == 0 && errored == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "groupwatch pass finished: %d sources, %d analyzed", len(results), analyzed)
	if failed > 0 {
		fmt.Fprintf(&b, ", %d failed items", failed)
	}
	if errored > 0 {
		fmt.Fprintf(&b, ", %d sources with errors", errored)
	}
	_ = w.notifier.NotifyText(context.WithoutCancel(ctx), b.String())
}

// Fetch returns the items newer than the stored cursor of a source without
// analysing them or moving the cursor. On a fetch error the items gathered so
// far are returned with it.
func (w *Watcher) Fetch(ctx context.Context, sourceID string) ([]domain.RawItem, error) {
	f, ok := w.fetchers[sourceID]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", sourceID)
	}
	src := w.pipelines[sourceID].Source()
	cur, err := w.cursors.Load(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var items []domain.RawItem
	for item, err := range f.FetchSince(ctx, src, cur) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Analyze filters and analyzes items of a source and hands them to the report
// sinks. The cursor is not touched.
func (w *Watcher) Analyze(ctx context.Context, sourceID string, items []domain.RawItem) ([]domain.AnalyzedRecord, error) {
	if w.providers == 0 {
		return nil, ErrNoProviders
	}
	p, ok := w.pipelines[sourceID]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", sourceID)
	}
	records, _, err := p.Assess(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}
	if err := w.sink.Emit(ctx, p.Source(), records); err != nil {
		w.log.Warn("Report sink failed", "source", sourceID, "error", err)
	}
	if err := w.digest.Flush(ctx, sourceID); err != nil {
		w.log.Warn("Digest notification failed", "source", sourceID, "error", err)
	}
	return records, nil
}

// Start starts the health server, the report pruner and the periodic pass
// loop. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	if w.providers == 0 {
		return ErrNoProviders
	}
	ctx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.done = make(chan struct{})

	// Start Health Server
	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	if w.pruner != nil {
		w.log.Info("Starting report pruner", "dir", w.cfg.Report.CSVDir, "retention", w.cfg.Report.Retention)
		go w.pruner.Start(ctx)
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		w.log.Info("Starting pass", "sources", len(w.sources))
		results, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Warn("Pass finished with errors", "error", err)
		}

		next := w.pacer.ComputeInterval(passActivity(results, err))
		w.log.Debug("Next pass scheduled", "in", next)

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// passActivity is the number of items a pass fetched, or -1 when the pass
// failed without fetching anything.
func passActivity(results []RunResult, err error) int {
	fetched := 0
	for _, r := range results {
		fetched += r.Summary.Fetched
	}
	if fetched == 0 && err != nil {
		return -1
	}
	return fetched
}

// Stop stops the watcher. A pass in progress finishes its current window.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	if w.stop != nil {
		w.stop()
		select {
		case <-w.done:
		case <-ctx.Done():
			w.log.Warn("Pass did not stop in time", "error", ctx.Err())
		}
	}

	w.notifier.Wait(ctx)
	err := w.healthServer.Stop(ctx)
	w.close()
	return err
}

// Close releases connections without the shutdown sequence of Stop. It is
// meant for one-shot commands.
func (w *Watcher) Close(ctx context.Context) {
	w.notifier.Wait(ctx)
	w.close()
}

func (w *Watcher) close() {
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
		w.redisClient = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
		w.db = nil
	}
}
