package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// DefaultKeywords is the built-in finance vocabulary. Matching is a
// case-insensitive substring test, so short Chinese terms match broadly.
var DefaultKeywords = []string{
	"股", "基金", "期货", "债券", "涨", "跌", "买入", "卖出",
	"仓", "多", "空", "牛", "熊", "板块", "行情", "大盘",
	"指数", "K线", "均线", "macd", "ETF", "A股", "港股", "美股",
	"比特币", "BTC", "ETH", "币", "区块链", "加密", "合约",
	"原油", "黄金", "白银", "铜", "螺纹", "豆粕",
	"利率", "降息", "加息", "通胀", "GDP", "CPI",
	"stock", "equity", "bond", "fund", "futures", "option",
	"bitcoin", "crypto", "forex", "dividend", "earnings",
	"bullish", "bearish", "inflation", "interest rate", "nasdaq", "s&p",
}

// DefaultPatterns match tickers, security codes, percentages and amounts.
var DefaultPatterns = []string{
	`\$[A-Za-z]{1,5}\b`,
	`(?i)\b(?:SH|SZ|BJ)\d{6}\b`,
	`\b(?:60|68|00|30)\d{4}\b`,
	`(?i)\b\d{4,5}\.HK\b`,
	`(?i)\b[A-Z]{1,5}\.US\b`,
	`\d+(?:\.\d+)?\s*%`,
	`[¥￥$]\s*\d`,
	`\d+(?:\.\d+)?\s*(?:元|美元|港元|港币|万元|亿元|亿)`,
	`(?i)\b\d+(?:\.\d+)?\s*(?:USD|USDT|CNY|RMB|HKD)\b`,
}

// KeywordFilter matches keywords and patterns against the post and its
// comments.
type KeywordFilter struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewKeywordFilter builds a filter from the default vocabulary plus the
// given extras. Invalid extra patterns are reported as an error.
func NewKeywordFilter(extraKeywords, extraPatterns []string) (*KeywordFilter, error) {
	f := &KeywordFilter{}

	seen := make(map[string]struct{})
	for _, kw := range append(append([]string{}, DefaultKeywords...), extraKeywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		f.keywords = append(f.keywords, kw)
	}

	for _, p := range DefaultPatterns {
		f.patterns = append(f.patterns, regexp.MustCompile(p))
	}
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// IsRelevant implements Filter.
func (f *KeywordFilter) IsRelevant(item domain.RawItem) bool {
	if isEmpty(item) {
		return false
	}
	_, ok := f.Match(itemText(item))
	return ok
}

// Match returns the first keyword or pattern found in text.
func (f *KeywordFilter) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	for _, re := range f.patterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

func itemText(item domain.RawItem) string {
	if len(item.Comments) == 0 {
		return item.Text
	}
	var b strings.Builder
	b.WriteString(item.Text)
	for _, c := range item.Comments {
		b.WriteByte('\n')
		b.WriteString(c.Text)
	}
	return b.String()
}

func isEmpty(item domain.RawItem) bool {
	return strings.TrimSpace(item.Text) == ""
}
