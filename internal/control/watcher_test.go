package control

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/config"
	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/analysis"
	"github.com/vietddude/groupwatch/internal/indexing/fetcher/fetchertest"
	"github.com/vietddude/groupwatch/internal/indexing/health"
	"github.com/vietddude/groupwatch/internal/indexing/pipeline"
	"github.com/vietddude/groupwatch/internal/infra/llm"
	"github.com/vietddude/groupwatch/internal/infra/retry"
	"github.com/vietddude/groupwatch/internal/infra/zsxq"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

// =============================================================================
// Fakes
// =============================================================================

// groupUpstream routes listing calls to one fake upstream per group.
type groupUpstream map[string]*fetchertest.Upstream

func (g groupUpstream) ListTopics(ctx context.Context, creds domain.Credentials, groupID string, end time.Time) (zsxq.Page, error) {
	up, ok := g[groupID]
	if !ok {
		return zsxq.Page{}, fmt.Errorf("group %s: %w", groupID, domain.ErrPermanent)
	}
	return up.ListTopics(ctx, creds, groupID, end)
}

func (g groupUpstream) ListComments(context.Context, domain.Credentials, string) ([]domain.Comment, error) {
	return nil, nil
}

// echoProvider answers batch prompts with one object per item and single
// prompts with one bullish assessment.
type echoProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProvider) Name() string { return "P1" }

func (p *echoProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	var parts []string
	for line := range strings.Lines(req.Prompt) {
		if id, ok := strings.CutPrefix(strings.TrimSpace(line), "### item_id: "); ok {
			parts = append(parts, fmt.Sprintf(`{"item_id":%q,"is_financial":true,"sentiment":"bullish"}`, id))
		}
	}
	if len(parts) == 0 {
		return `{"is_financial":true,"product_type":"stock","sentiment":"bullish"}`, nil
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	texts    []string
	markdown []string
	errors   []string
}

func (n *recordingNotifier) NotifyText(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) NotifyMarkdown(_ context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.markdown = append(n.markdown, content)
	return nil
}

func (n *recordingNotifier) NotifyError(_ context.Context, sourceID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, sourceID)
	return nil
}

func (n *recordingNotifier) NotifyQRCode(context.Context, []byte) error { return nil }

func (n *recordingNotifier) counts() (texts, markdown, errs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts), len(n.markdown), len(n.errors)
}

// =============================================================================
// Helpers
// =============================================================================

func testConfig(t *testing.T, sources ...string) Config {
	t.Helper()
	cfg := config.AppConfig{
		Analysis: config.AnalysisConfig{
			WindowSize:     25,
			MaxBatchSize:   5,
			MaxConcurrency: 2,
			DisableFilter:  true,
		},
		Storage: config.StorageConfig{Driver: "memory"},
		Report:  config.ReportConfig{CSVDir: t.TempDir()},
		Watch:   config.WatchConfig{Interval: time.Hour},
	}
	for _, id := range sources {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{ID: id, Name: "group " + id})
	}
	return Config{AppConfig: cfg}
}

func testOptions(up groupUpstream, provider llm.Provider, n *recordingNotifier) []Option {
	opts := []Option{
		WithUpstream(up),
		WithSessions(&fetchertest.Sessions{}),
		WithLimiter(&fetchertest.CountingLimiter{}),
		WithNotifier(n),
	}
	if provider != nil {
		opts = append(opts, WithBackends([]analysis.Backend{{
			Provider: provider,
			Retry:    retry.NewExecutor("P1", retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}),
			Batch:    true,
		}}))
	}
	return opts
}

// =============================================================================
// Tests
// =============================================================================

func TestWatcher_RunOnce(t *testing.T) {
	up := groupUpstream{
		"g1": {Items: fetchertest.Items("g1", 30, t0, time.Minute, 1000), PageSize: 20},
		"g2": {Items: fetchertest.Items("g2", 7, t0, time.Minute, 5000), PageSize: 20},
	}
	notifier := &recordingNotifier{}
	cfg := testConfig(t, "g1", "g2")

	w, err := NewWatcher(cfg, testOptions(up, &echoProvider{}, notifier)...)
	require.NoError(t, err)
	require.Len(t, w.Sources(), 2)

	ctx := context.Background()
	results, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "g1", results[0].Summary.SourceID)
	assert.Equal(t, 30, results[0].Summary.Analyzed)
	assert.Equal(t, 2, results[0].Summary.Windows)
	assert.Equal(t, 7, results[1].Summary.Analyzed)

	c1, err := w.Cursors().Load(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "1029", c1.LastItemID)
	c2, err := w.Cursors().Load(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, "5006", c2.LastItemID)

	files, err := filepath.Glob(filepath.Join(cfg.Report.CSVDir, "g1_*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	// A second pass finds nothing new and stays quiet.
	results, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, results[0].Summary.Fetched)
	assert.Zero(t, results[1].Summary.Fetched)

	w.Close(ctx)
	texts, markdown, errs := notifier.counts()
	assert.Equal(t, 1, texts, "one pass summary")
	assert.Equal(t, 2, markdown, "one digest per source")
	assert.Zero(t, errs)

	for id, h := range w.Health(ctx) {
		assert.Equal(t, health.StatusHealthy, h.Status, id)
	}
}

func TestWatcher_SourceIsolation(t *testing.T) {
	up := groupUpstream{
		"g1": {
			Items:    fetchertest.Items("g1", 5, t0, time.Minute, 1000),
			TopicErr: func(int, time.Time) error { return fmt.Errorf("topics: %w: status 404", domain.ErrPermanent) },
		},
		"g2": {Items: fetchertest.Items("g2", 5, t0, time.Minute, 5000)},
	}
	notifier := &recordingNotifier{}

	w, err := NewWatcher(testConfig(t, "g1", "g2"), testOptions(up, &echoProvider{}, notifier)...)
	require.NoError(t, err)

	ctx := context.Background()
	results, err := w.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrPermanent)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, 5, results[1].Summary.Analyzed)

	c1, err := w.Cursors().Load(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, c1.IsZero())

	report := w.Health(ctx)
	assert.Equal(t, health.StatusCritical, report["g1"].Status)
	assert.Equal(t, health.StatusHealthy, report["g2"].Status)

	w.Close(ctx)
	_, markdown, errs := notifier.counts()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, markdown, "only the healthy source sends a digest")
}

func TestWatcher_FetchAndAnalyzeLeaveCursor(t *testing.T) {
	items := fetchertest.Items("g1", 4, t0, time.Minute, 1000)
	items[1].Text = "买入了一点黄金"
	up := groupUpstream{"g1": {Items: items}}

	cfg := testConfig(t, "g1")
	cfg.Analysis.DisableFilter = false
	provider := &echoProvider{}

	w, err := NewWatcher(cfg, testOptions(up, provider, &recordingNotifier{})...)
	require.NoError(t, err)
	defer w.Close(context.Background())

	ctx := context.Background()
	fetched, err := w.Fetch(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, fetched, 4)
	assert.Equal(t, "1000", fetched[0].ItemID)

	records, err := w.Analyze(ctx, "g1", fetched)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, domain.ProviderKeywordFilter, records[0].Result.ProviderUsed)
	assert.Equal(t, "P1", records[1].Result.ProviderUsed)
	assert.Equal(t, 1, provider.calls)

	c, err := w.Cursors().Load(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	_, err = w.Fetch(ctx, "missing")
	assert.Error(t, err)
}

func TestWatcher_NoProviders(t *testing.T) {
	w, err := NewWatcher(testConfig(t, "g1"), testOptions(groupUpstream{}, nil, &recordingNotifier{})...)
	require.NoError(t, err)

	_, err = w.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.ErrorIs(t, w.Start(context.Background()), ErrNoProviders)
}

func TestNewWatcher_Only(t *testing.T) {
	cfg := testConfig(t, "g1", "g2")
	cfg.Only = []string{"g2"}

	w, err := NewWatcher(cfg, testOptions(groupUpstream{}, &echoProvider{}, &recordingNotifier{})...)
	require.NoError(t, err)
	require.Len(t, w.Sources(), 1)
	assert.Equal(t, "g2", w.Sources()[0].ID)

	cfg.Only = []string{"g3"}
	_, err = NewWatcher(cfg, testOptions(groupUpstream{}, &echoProvider{}, &recordingNotifier{})...)
	assert.Error(t, err)
}

func TestFetchRange(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.ParseInLocation(config.DateLayout, s, time.Local)
		require.NoError(t, err)
		return d
	}

	tests := []struct {
		name        string
		source      config.SourceConfig
		start, end  string
		wantFloor   time.Time
		wantCeiling time.Time
		wantErr     bool
	}{
		{
			name:   "unbounded",
			source: config.SourceConfig{ID: "g1"},
		},
		{
			name:        "end date is inclusive",
			source:      config.SourceConfig{ID: "g1", StartDate: "2024-03-01", EndDate: "2024-03-05"},
			wantFloor:   day("2024-03-01"),
			wantCeiling: day("2024-03-06"),
		},
		{
			name:        "overrides win",
			source:      config.SourceConfig{ID: "g1", StartDate: "2024-03-01", EndDate: "2024-03-05"},
			start:       "2024-04-01",
			end:         "2024-04-01",
			wantFloor:   day("2024-04-01"),
			wantCeiling: day("2024-04-02"),
		},
		{
			name:    "start after end",
			source:  config.SourceConfig{ID: "g1", StartDate: "2024-03-05", EndDate: "2024-03-01"},
			wantErr: true,
		},
		{
			name:    "bad date",
			source:  config.SourceConfig{ID: "g1"},
			start:   "03/01/2024",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fetchRange(tt.source, tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Floor.Equal(tt.wantFloor), "floor %v", got.Floor)
			assert.True(t, got.Ceiling.Equal(tt.wantCeiling), "ceiling %v", got.Ceiling)
			assert.True(t, got.FetchComments)
		})
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	up := groupUpstream{"g1": {Items: fetchertest.Items("g1", 3, t0, time.Minute, 1000)}}
	w, err := NewWatcher(testConfig(t, "g1"), testOptions(up, &echoProvider{}, &recordingNotifier{})...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, w.Start(ctx))

	// Start runs the first pass right away.
	require.Eventually(t, func() bool {
		c, err := w.Cursors().Load(ctx, "g1")
		return err == nil && c.LastItemID == "1002"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop(ctx))
}

func TestOpenCursors(t *testing.T) {
	cfg := config.AppConfig{Storage: config.StorageConfig{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "cursors.json"),
	}}

	mgr, closeFn, err := OpenCursors(cfg)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, mgr.Reset(ctx, domain.Cursor{SourceID: "g1", LastTimestamp: t0, LastItemID: "1001"}))

	// A second handle on the same file sees the write.
	again, closeAgain, err := OpenCursors(cfg)
	require.NoError(t, err)
	defer closeAgain()

	list, err := again.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1001", list[0].LastItemID)
}

func TestPassActivity(t *testing.T) {
	ok := []RunResult{
		{Summary: pipeline.Summary{Fetched: 3}},
		{Summary: pipeline.Summary{Fetched: 4}},
	}
	assert.Equal(t, 7, passActivity(ok, nil))
	assert.Equal(t, 0, passActivity([]RunResult{{}}, nil))

	failed := []RunResult{{Err: domain.ErrPermanent}}
	assert.Equal(t, -1, passActivity(failed, domain.ErrPermanent))

	// Progress on one source still counts when another failed.
	mixed := append(failed, RunResult{Summary: pipeline.Summary{Fetched: 2}})
	assert.Equal(t, 2, passActivity(mixed, domain.ErrPermanent))
}
