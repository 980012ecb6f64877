package domain

import (
	"slices"
	"testing"
	"time"
)

func TestCompareItemIDs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"numeric less", "9", "10", -1},
		{"numeric greater", "100", "99", 1},
		{"numeric equal", "42", "42", 0},
		{"equal value breaks on text", "007", "7", -1},
		{"lexicographic fallback", "abc", "abd", -1},
		{"numeric before text", "10", "a", -1},
		{"numeric before digit-led text", "2", "1a", -1},
		{"text after numeric", "1a", "10", 1},
		{"empty first", "", "0", -1},
		{"empty equal", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareItemIDs(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareItemIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareItemIDs_TotalOrder(t *testing.T) {
	ids := []string{"1a", "10", "7", "2", "", "b", "007", "1"}
	for _, a := range ids {
		for _, b := range ids {
			if CompareItemIDs(a, b) != -CompareItemIDs(b, a) {
				t.Errorf("CompareItemIDs(%q, %q) is not antisymmetric", a, b)
			}
			for _, c := range ids {
				if CompareItemIDs(a, b) < 0 && CompareItemIDs(b, c) < 0 && CompareItemIDs(a, c) >= 0 {
					t.Errorf("%q < %q < %q but not %q < %q", a, b, c, a, c)
				}
			}
		}
	}

	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, CompareItemIDs)
	want := []string{"", "1", "2", "007", "7", "10", "1a", "b"}
	if !slices.Equal(sorted, want) {
		t.Errorf("sorted = %q, want %q", sorted, want)
	}
}

func TestCursorCovers(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cur := Cursor{SourceID: "g1", LastTimestamp: base, LastItemID: "200"}

	tests := []struct {
		name string
		ts   time.Time
		id   string
		want bool
	}{
		{"older timestamp", base.Add(-time.Minute), "999", true},
		{"same position", base, "200", true},
		{"same timestamp smaller id", base, "150", true},
		{"same timestamp larger id", base, "201", false},
		{"newer timestamp", base.Add(time.Second), "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cur.Covers(tt.ts, tt.id); got != tt.want {
				t.Errorf("Covers(%v, %s) = %v, want %v", tt.ts, tt.id, got, tt.want)
			}
		})
	}

	if (Cursor{}).Covers(base, "1") {
		t.Error("zero cursor must not cover anything")
	}
}

func TestParseSentiment(t *testing.T) {
	tests := map[string]Sentiment{
		"bullish": SentimentBullish,
		"看多":      SentimentBullish,
		"BEARISH": SentimentBearish,
		"看空":      SentimentBearish,
		"中性":      SentimentNeutral,
		"分歧":      SentimentMixed,
		"mixed":   SentimentMixed,
		"无":       SentimentUnknown,
		"sideways": SentimentUnknown,
	}
	for in, want := range tests {
		if got := ParseSentiment(in); got != want {
			t.Errorf("ParseSentiment(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestHasOwnerContent(t *testing.T) {
	item := RawItem{AuthorID: "u1", Comments: []Comment{{AuthorID: "u2"}, {AuthorID: "owner"}}}
	if !item.HasOwnerContent("owner") {
		t.Error("expected owner comment to count")
	}
	if item.HasOwnerContent("u3") {
		t.Error("unexpected owner content for u3")
	}
	if item.HasOwnerContent("") {
		t.Error("empty owner id must never match")
	}
}
