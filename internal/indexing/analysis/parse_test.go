package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

func TestParseSingle(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		owner   bool
		want    domain.Assessment
		owned   *domain.Assessment
		wantErr bool
	}{
		{
			name: "plain",
			text: `{"is_financial":true,"product_type":"stock","instruments":["600519"],"sentiment":"bullish","rationale":"r","summary":"s"}`,
			want: domain.Assessment{
				IsFinancial: true, ProductType: domain.ProductStock, Instruments: []string{"600519"},
				Sentiment: domain.SentimentBullish, Rationale: "r", Summary: "s",
			},
		},
		{
			name: "fenced with prose and legacy fields",
			text: "Here you go:\n```json\n{\"is_financial\": true, \"product_type\": \"期货\", \"targets\": [\"螺纹钢\", \"螺纹钢\", \"无\"], \"outlook\": \"看空\", \"reason\": \"库存高\", \"summary\": \"看空螺纹\"}\n```",
			want: domain.Assessment{
				IsFinancial: true, ProductType: domain.ProductFutures, Instruments: []string{"螺纹钢"},
				Sentiment: domain.SentimentBearish, Rationale: "库存高", Summary: "看空螺纹",
			},
		},
		{
			name: "unknown sentiment and string flag",
			text: `{"is_financial":"是","sentiment":"to the moon","instruments":"BTC, ETH"}`,
			want: domain.Assessment{
				IsFinancial: true, ProductType: domain.ProductNone, Instruments: []string{"BTC", "ETH"},
				Sentiment: domain.SentimentUnknown,
			},
		},
		{
			name:  "owner opinion",
			owner: true,
			text:  `{"is_financial":true,"sentiment":"mixed","owner_opinion":{"sentiment":"bullish","instruments":["NVDA"]}}`,
			want: domain.Assessment{
				IsFinancial: true, ProductType: domain.ProductNone, Sentiment: domain.SentimentMixed,
			},
			owned: &domain.Assessment{
				IsFinancial: true, ProductType: domain.ProductNone, Instruments: []string{"NVDA"},
				Sentiment: domain.SentimentBullish,
			},
		},
		{
			name: "owner opinion ignored without owner content",
			text: `{"is_financial":false,"owner_opinion":{"sentiment":"bullish"}}`,
			want: domain.Assessment{ProductType: domain.ProductNone, Sentiment: domain.SentimentUnknown},
		},
		{name: "missing flag", text: `{"sentiment":"bullish"}`, wantErr: true},
		{name: "no json", text: "I cannot help with that.", wantErr: true},
		{name: "broken json", text: `{"is_financial": tru`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseSingle(tt.text, "42", tt.owner)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "42", res.ItemID)
			assert.Equal(t, tt.want, res.Assessment)
			assert.Equal(t, tt.owned, res.OwnerOpinion)
		})
	}
}

func TestParseBatch(t *testing.T) {
	items := []domain.RawItem{{ItemID: "1"}, {ItemID: "2"}}

	t.Run("reordered array", func(t *testing.T) {
		text := `[{"item_id":"2","is_financial":false},{"item_id":1,"is_financial":true,"sentiment":"neutral"}]`
		res, err := parseBatch(text, items, "")
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "1", res[0].ItemID)
		assert.True(t, res[0].IsFinancial)
		assert.Equal(t, domain.SentimentNeutral, res[0].Sentiment)
		assert.Equal(t, "2", res[1].ItemID)
	})

	t.Run("wrapped", func(t *testing.T) {
		text := `{"results":[{"item_id":"1","is_financial":false},{"item_id":"2","is_financial":false}]}`
		res, err := parseBatch(text, items, "")
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	bad := map[string]string{
		"missing id":   `[{"item_id":"1","is_financial":false},{"item_id":"3","is_financial":false}]`,
		"duplicate id": `[{"item_id":"1","is_financial":false},{"item_id":"1","is_financial":false}]`,
		"short":        `[{"item_id":"1","is_financial":false}]`,
		"no flag":      `[{"item_id":"1","is_financial":false},{"item_id":"2"}]`,
		"not json":     `sorry`,
	}
	for name, text := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := parseBatch(text, items, "")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestPromptBuilder(t *testing.T) {
	b := promptBuilder{maxRunes: 30}
	item := domain.RawItem{
		ItemID:     "7",
		AuthorID:   "u1",
		AuthorName: "alice",
		Text:       strings.Repeat("涨", 40),
		Comments: []domain.Comment{
			{AuthorID: "owner", AuthorName: "boss", Text: "hold"},
		},
	}

	req := b.single(item, "owner")
	assert.Contains(t, req.Prompt, strings.Repeat("涨", 30)+"\n")
	assert.NotContains(t, req.Prompt, strings.Repeat("涨", 31))
	assert.Contains(t, req.Prompt, "[OWNER] boss")
	assert.Contains(t, req.Prompt, "owner_opinion")
	assert.NotEmpty(t, req.System)

	req = b.single(item, "someone-else")
	assert.NotContains(t, req.Prompt, "owner_opinion")

	req = b.batch([]domain.RawItem{item, {ItemID: "8", Text: "x"}}, "")
	assert.Contains(t, req.Prompt, "### item_id: 7")
	assert.Contains(t, req.Prompt, "### item_id: 8")
}
