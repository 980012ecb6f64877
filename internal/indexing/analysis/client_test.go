package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/llm"
	"github.com/vietddude/groupwatch/internal/infra/retry"
)

type fakeProvider struct {
	name    string
	respond func(req llm.Request) (string, error)

	mu    sync.Mutex
	calls int
	reqs  []llm.Request
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.respond(req)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func backend(p llm.Provider, batch bool) Backend {
	return Backend{
		Provider: p,
		Retry:    retry.NewExecutor(p.Name(), retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		Batch:    batch,
	}
}

func failing(err error) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return "", err }
}

func answering(text string) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return text, nil }
}

// echoBatch answers a batch prompt with one object per "### item_id:" line.
func echoBatch(req llm.Request) (string, error) {
	var parts []string
	for line := range strings.Lines(req.Prompt) {
		if id, ok := strings.CutPrefix(strings.TrimSpace(line), "### item_id: "); ok {
			parts = append(parts, fmt.Sprintf(`{"item_id":%q,"is_financial":true,"sentiment":"bullish"}`, id))
		}
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

var (
	src       = domain.Source{ID: "g1", OwnerID: "owner"}
	transient = fmt.Errorf("upstream: %w: status 503", domain.ErrTransient)
	okJSON    = `{"is_financial":true,"product_type":"stock","instruments":["AAPL"],"sentiment":"bullish"}`
)

func TestAnalyze_FallsBackToSecondProvider(t *testing.T) {
	p1 := &fakeProvider{name: "P1", respond: failing(transient)}
	p2 := &fakeProvider{name: "P2", respond: answering(okJSON)}
	c := NewClient([]Backend{backend(p1, false), backend(p2, false)})

	for i := range 3 {
		res, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: fmt.Sprint(i), Text: "buy AAPL"})
		require.NoError(t, err)
		assert.Equal(t, "P2", res.ProviderUsed)
		assert.True(t, res.IsFinancial)
		assert.False(t, res.Degraded)
	}
	assert.Equal(t, 9, p1.Calls())
	assert.Equal(t, 3, p2.Calls())
}

func TestAnalyze_ParseFailureNotRetried(t *testing.T) {
	p1 := &fakeProvider{name: "P1", respond: answering("I'd rather not say")}
	p2 := &fakeProvider{name: "P2", respond: answering(okJSON)}
	c := NewClient([]Backend{backend(p1, false), backend(p2, false)})

	res, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: "1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "P2", res.ProviderUsed)
	assert.Equal(t, 1, p1.Calls())
}

func TestAnalyze_PermanentErrorNotRetried(t *testing.T) {
	p1 := &fakeProvider{name: "P1", respond: failing(fmt.Errorf("bad request: %w", domain.ErrPermanent))}
	p2 := &fakeProvider{name: "P2", respond: answering(okJSON)}
	c := NewClient([]Backend{backend(p1, false), backend(p2, false)})

	res, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: "1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "P2", res.ProviderUsed)
	assert.Equal(t, 1, p1.Calls())
}

func TestAnalyze_AllProvidersFail(t *testing.T) {
	p1 := &fakeProvider{name: "P1", respond: failing(transient)}
	p2 := &fakeProvider{name: "P2", respond: answering("{}")}
	c := NewClient([]Backend{backend(p1, false), backend(p2, false)})

	_, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: "9", Text: "x"})
	require.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
	assert.ErrorIs(t, err, domain.ErrRetryExhausted)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "item 9")
}

func TestAnalyze_NoProviders(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: "1"})
	assert.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
}

func TestAnalyze_OwnerOpinion(t *testing.T) {
	p := &fakeProvider{name: "P1", respond: answering(
		`{"is_financial":true,"sentiment":"mixed","owner_opinion":{"is_financial":true,"sentiment":"bearish"}}`)}
	c := NewClient([]Backend{backend(p, false)})

	item := domain.RawItem{
		ItemID:   "1",
		AuthorID: "member",
		Text:     "what about gold?",
		Comments: []domain.Comment{{AuthorID: "owner", AuthorName: "boss", Text: "I am selling"}},
	}
	res, err := c.Analyze(context.Background(), src, item)
	require.NoError(t, err)
	require.NotNil(t, res.OwnerOpinion)
	assert.Equal(t, domain.SentimentBearish, res.OwnerOpinion.Sentiment)
	assert.Contains(t, p.reqs[0].Prompt, "[OWNER] boss")

	item.Comments = nil
	res, err = c.Analyze(context.Background(), src, item)
	require.NoError(t, err)
	assert.Nil(t, res.OwnerOpinion)
}

func TestAnalyze_PacesRequests(t *testing.T) {
	p := &fakeProvider{name: "P1", respond: answering(okJSON)}
	b := backend(p, false)
	b.Pace = NewPace(30 * time.Millisecond)
	c := NewClient([]Backend{b})

	start := time.Now()
	for i := range 3 {
		_, err := c.Analyze(context.Background(), src, domain.RawItem{ItemID: fmt.Sprint(i), Text: "x"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
	assert.Nil(t, NewPace(0))
}

func TestAnalyzeBatch(t *testing.T) {
	items := []domain.RawItem{{ItemID: "1", Text: "a"}, {ItemID: "2", Text: "b"}, {ItemID: "3", Text: "c"}}

	t.Run("skips providers without batch support", func(t *testing.T) {
		single := &fakeProvider{name: "single", respond: answering(okJSON)}
		batch := &fakeProvider{name: "batch", respond: echoBatch}
		c := NewClient([]Backend{backend(single, false), backend(batch, true)})

		out, err := c.AnalyzeBatch(context.Background(), src, items)
		require.NoError(t, err)
		assert.Equal(t, "batch", out.Provider)
		require.Len(t, out.Results, 3)
		for i, r := range out.Results {
			assert.Equal(t, items[i].ItemID, r.ItemID)
			assert.Equal(t, "batch", r.ProviderUsed)
		}
		assert.Zero(t, single.Calls())
	})

	t.Run("incomplete response fails", func(t *testing.T) {
		p := &fakeProvider{name: "P1", respond: answering(`[{"item_id":"1","is_financial":true}]`)}
		c := NewClient([]Backend{backend(p, true)})

		_, err := c.AnalyzeBatch(context.Background(), src, items)
		require.ErrorIs(t, err, domain.ErrAnalysisUnavailable)

		var be *BatchError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, 3, be.Items)
		assert.Equal(t, 1, p.Calls())
	})

	t.Run("no batch providers", func(t *testing.T) {
		c := NewClient([]Backend{backend(&fakeProvider{name: "P1", respond: echoBatch}, false)})
		_, err := c.AnalyzeBatch(context.Background(), src, items)
		assert.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
		assert.ErrorIs(t, err, ErrNoBatchProviders)
	})
}
