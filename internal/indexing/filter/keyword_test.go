package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

func TestKeywordFilter_IsRelevant(t *testing.T) {
	f, err := NewKeywordFilter([]string{"Lithium"}, []string{`\bLFP\b`})
	require.NoError(t, err)

	tests := []struct {
		name string
		item domain.RawItem
		want bool
	}{
		{"chinese keyword", domain.RawItem{Text: "今天大盘走势不错"}, true},
		{"english keyword case", domain.RawItem{Text: "Watching BITCOIN closely"}, true},
		{"cashtag", domain.RawItem{Text: "picked up some $nvda today"}, true},
		{"exchange code", domain.RawItem{Text: "看看SH600519"}, true},
		{"bare a-share code", domain.RawItem{Text: "关注300750的走势"}, true},
		{"hk listing", domain.RawItem{Text: "tencent 0700.HK"}, true},
		{"us listing", domain.RawItem{Text: "aapl.us is out"}, true},
		{"percentage", domain.RawItem{Text: "up 3.5% overnight"}, true},
		{"yuan amount", domain.RawItem{Text: "花了200元"}, true},
		{"usd amount", domain.RawItem{Text: "paid 15 USD"}, true},
		{"extra keyword", domain.RawItem{Text: "lithium supply news"}, true},
		{"extra pattern", domain.RawItem{Text: "new LFP cells"}, true},
		{"keyword in comment", domain.RawItem{
			Text:     "what do you think?",
			Comments: []domain.Comment{{Text: "I would buy the ETF"}},
		}, true},
		{"unrelated", domain.RawItem{Text: "weekend hiking photos"}, false},
		{"year is not a code", domain.RawItem{Text: "see you in 2025"}, false},
		{"empty", domain.RawItem{Text: "   "}, false},
		{"empty post with comments", domain.RawItem{
			Comments: []domain.Comment{{Text: "ETF"}},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsRelevant(tt.item))
		})
	}
}

func TestKeywordFilter_Match(t *testing.T) {
	f, err := NewKeywordFilter(nil, nil)
	require.NoError(t, err)

	term, ok := f.Match("降息预期升温")
	require.True(t, ok)
	assert.Equal(t, "降息", term)

	_, ok = f.Match("nothing here")
	assert.False(t, ok)
}

func TestNewKeywordFilter_InvalidPattern(t *testing.T) {
	_, err := NewKeywordFilter(nil, []string{"("})
	assert.Error(t, err)
}

func TestPassAll(t *testing.T) {
	var f Filter = PassAll{}
	assert.True(t, f.IsRelevant(domain.RawItem{Text: "anything"}))
	assert.False(t, f.IsRelevant(domain.RawItem{}))
}
