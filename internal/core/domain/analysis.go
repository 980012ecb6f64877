package domain

import "strings"

// Sentiment is the market direction expressed by a post.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
	SentimentMixed   Sentiment = "mixed"
	SentimentUnknown Sentiment = "unknown"
)

// ParseSentiment maps model output onto the fixed sentiment set.
// Anything unrecognised becomes SentimentUnknown.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "bull", "long", "positive", "看多", "看涨", "利好":
		return SentimentBullish
	case "bearish", "bear", "short", "negative", "看空", "看跌", "利空":
		return SentimentBearish
	case "neutral", "中性", "观望":
		return SentimentNeutral
	case "mixed", "divided", "分歧", "多空分歧":
		return SentimentMixed
	default:
		return SentimentUnknown
	}
}

// ProductType is the asset class a post talks about.
type ProductType string

const (
	ProductStock   ProductType = "stock"
	ProductFutures ProductType = "futures"
	ProductCrypto  ProductType = "crypto"
	ProductFund    ProductType = "fund"
	ProductBond    ProductType = "bond"
	ProductOther   ProductType = "other"
	ProductNone    ProductType = "none"
)

// ParseProductType normalises English and Chinese product labels.
func ParseProductType(s string) ProductType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock", "stocks", "equity", "股票", "a股", "港股", "美股":
		return ProductStock
	case "futures", "future", "期货":
		return ProductFutures
	case "crypto", "cryptocurrency", "blockchain", "区块链", "加密货币", "数字货币", "币":
		return ProductCrypto
	case "fund", "etf", "基金":
		return ProductFund
	case "bond", "bonds", "债券":
		return ProductBond
	case "", "none", "无", "null":
		return ProductNone
	default:
		return ProductOther
	}
}

// Assessment is the structured judgement about a piece of content.
type Assessment struct {
	IsFinancial bool        `json:"is_financial"`
	ProductType ProductType `json:"product_type"`
	Instruments []string    `json:"instruments"`
	Sentiment   Sentiment   `json:"sentiment"`
	Rationale   string      `json:"rationale"`
	Summary     string      `json:"summary"`
}

const (
	// ProviderKeywordFilter marks results produced by the local keyword gate.
	ProviderKeywordFilter = "keyword_filter"
	// ProviderNone marks terminal local failure results.
	ProviderNone = "none"
)

// AnalysisResult is the outcome of analysing one RawItem.
type AnalysisResult struct {
	ItemID string `json:"item_id"`
	Assessment
	OwnerOpinion *Assessment `json:"owner_opinion,omitempty"`
	ProviderUsed string      `json:"provider_used"`
	Degraded     bool        `json:"degraded"`
	Failure      string      `json:"failure,omitempty"`
}

// Failed reports whether the result is a terminal local failure.
func (r AnalysisResult) Failed() bool {
	return r.Failure != ""
}

// NotFinancialResult is the synthetic result for items rejected by the keyword gate.
func NotFinancialResult(itemID string) AnalysisResult {
	return AnalysisResult{
		ItemID: itemID,
		Assessment: Assessment{
			IsFinancial: false,
			ProductType: ProductNone,
			Sentiment:   SentimentUnknown,
		},
		ProviderUsed: ProviderKeywordFilter,
	}
}

// FailureResult is the terminal result for an item no provider could analyse.
func FailureResult(itemID string, cause error) AnalysisResult {
	msg := "analysis unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return AnalysisResult{
		ItemID: itemID,
		Assessment: Assessment{
			IsFinancial: false,
			ProductType: ProductNone,
			Sentiment:   SentimentUnknown,
		},
		ProviderUsed: ProviderNone,
		Degraded:     true,
		Failure:      msg,
	}
}

// AnalyzedRecord pairs an item with its analysis. It is the unit handed to report sinks.
type AnalyzedRecord struct {
	Item   RawItem        `json:"item"`
	Result AnalysisResult `json:"result"`
}
