package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// ErrMalformedResponse marks model output that could not be turned into a result.
var ErrMalformedResponse = errors.New("malformed model response")

// Field aliases accepted from model output, first match wins.
var (
	keysIsFinancial = []string{"is_financial", "isFinancial", "financial", "是否财经"}
	keysProductType = []string{"product_type", "productType", "product", "产品类型"}
	keysInstruments = []string{"instruments", "targets", "tickers", "symbols", "标的"}
	keysSentiment   = []string{"sentiment", "outlook", "view", "看法"}
	keysRationale   = []string{"rationale", "reason", "reasoning", "原因"}
	keysSummary     = []string{"summary", "总结"}
	keysOwner       = []string{"owner_opinion", "ownerOpinion", "owner"}
	keysItemID      = []string{"item_id", "itemId", "id"}
)

// parseSingle decodes the response to a single-item prompt.
func parseSingle(text, itemID string, withOwner bool) (domain.AnalysisResult, error) {
	raw, ok := extractJSON(text, '{', '}')
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resultFromObject(obj, itemID, withOwner)
}

// parseBatch decodes the response to a batch prompt. The response must
// contain exactly one result for every expected id.
func parseBatch(text string, items []domain.RawItem, ownerID string) ([]domain.AnalysisResult, error) {
	objs, err := batchObjects(text)
	if err != nil {
		return nil, err
	}
	if len(objs) != len(items) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", ErrMalformedResponse, len(items), len(objs))
	}

	byID := make(map[string]map[string]any, len(objs))
	for i, obj := range objs {
		id, ok := stringField(obj, keysItemID)
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: result %d has no item_id", ErrMalformedResponse, i)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate result for item %s", ErrMalformedResponse, id)
		}
		byID[id] = obj
	}

	results := make([]domain.AnalysisResult, 0, len(items))
	for _, it := range items {
		obj, ok := byID[it.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: missing result for item %s", ErrMalformedResponse, it.ItemID)
		}
		res, err := resultFromObject(obj, it.ItemID, it.HasOwnerContent(ownerID))
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ItemID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func batchObjects(text string) ([]map[string]any, error) {
	if raw, ok := extractJSON(text, '[', ']'); ok {
		var objs []map[string]any
		if err := json.Unmarshal([]byte(raw), &objs); err == nil {
			return objs, nil
		}
	}
	// Some models wrap the array: {"results": [...]}.
	if raw, ok := extractJSON(text, '{', '}'); ok {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &wrapper); err == nil {
			for _, key := range []string{"results", "items", "data"} {
				var objs []map[string]any
				if v, ok := wrapper[key]; ok && json.Unmarshal(v, &objs) == nil {
					return objs, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: no JSON array found", ErrMalformedResponse)
}

func resultFromObject(obj map[string]any, itemID string, withOwner bool) (domain.AnalysisResult, error) {
	a, err := assessmentFromObject(obj, true)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	res := domain.AnalysisResult{ItemID: itemID, Assessment: a}
	if !withOwner {
		return res, nil
	}
	for _, k := range keysOwner {
		sub, ok := obj[k].(map[string]any)
		if !ok {
			continue
		}
		owner, err := assessmentFromObject(sub, false)
		if err == nil {
			res.OwnerOpinion = &owner
		}
		break
	}
	return res, nil
}

// assessmentFromObject maps one JSON object. Unknown enum values degrade to
// unknown/other instead of failing.
func assessmentFromObject(obj map[string]any, requireFlag bool) (domain.Assessment, error) {
	var a domain.Assessment

	flag, ok := boolField(obj, keysIsFinancial)
	if !ok && requireFlag {
		return a, fmt.Errorf("%w: is_financial missing", ErrMalformedResponse)
	}
	a.IsFinancial = flag

	product, _ := stringField(obj, keysProductType)
	a.ProductType = domain.ParseProductType(product)

	sentiment, _ := stringField(obj, keysSentiment)
	a.Sentiment = domain.ParseSentiment(sentiment)

	a.Instruments = instrumentsField(obj)
	a.Rationale, _ = stringField(obj, keysRationale)
	a.Summary, _ = stringField(obj, keysSummary)

	if !requireFlag && !ok {
		a.IsFinancial = a.Sentiment != domain.SentimentUnknown || len(a.Instruments) > 0
	}
	return a, nil
}

// extractJSON returns the outermost lo..hi span after stripping code fences.
func extractJSON(text string, lo, hi byte) (string, bool) {
	text = stripFences(text)
	start := strings.IndexByte(text, lo)
	end := strings.LastIndexByte(text, hi)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for line := range strings.Lines(text) {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(obj map[string]any, keys []string) (string, bool) {
	v, ok := lookup(obj, keys)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func boolField(obj map[string]any, keys []string) (bool, bool) {
	v, ok := lookup(obj, keys)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "是":
			return true, true
		case "false", "no", "n", "0", "否":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

func instrumentsField(obj map[string]any) []string {
	v, ok := lookup(obj, keysInstruments)
	if !ok {
		return nil
	}

	var raw []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == '，' || r == '、' || r == ';'
		})
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		switch strings.ToLower(s) {
		case "", "无", "none", "n/a", "null":
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
