package emitter

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// CSVHeader is the column layout of report files.
var CSVHeader = []string{
	"time", "source", "item_id", "author", "owner_post", "is_financial",
	"product_type", "instruments", "sentiment", "owner_sentiment", "owner_rationale",
	"rationale", "summary", "provider", "degraded", "failure", "comments", "excerpt",
}

const excerptRunes = 200

// CSVSink appends records to one file per source and day:
// <dir>/<source>_<YYYY-MM-DD>.csv, day taken from the item time.
type CSVSink struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

// NewCSVSink creates the report directory if needed.
func NewCSVSink(dir string, loc *time.Location) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CSVSink{dir: dir, loc: loc}, nil
}

func (s *CSVSink) Name() string { return "csv" }

// Dir returns the report directory.
func (s *CSVSink) Dir() string { return s.dir }

// Path returns the report file for a source and day.
func (s *CSVSink) Path(sourceID string, day time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", sourceID, day.In(s.loc).Format(time.DateOnly)))
}

func (s *CSVSink) Emit(_ context.Context, src domain.Source, records []domain.AnalyzedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFile := make(map[string][][]string)
	var order []string
	for _, r := range records {
		path := s.Path(src.ID, r.Item.Timestamp)
		if _, ok := byFile[path]; !ok {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], csvRow(src, r, s.loc))
	}

	for _, path := range order {
		if err := appendRows(path, byFile[path]); err != nil {
			return err
		}
	}
	return nil
}

func appendRows(path string, rows [][]string) error {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("write header %s: %w", path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return f.Sync()
}

func csvRow(src domain.Source, r domain.AnalyzedRecord, loc *time.Location) []string {
	res := r.Result
	var ownerSentiment, ownerRationale string
	if res.OwnerOpinion != nil {
		ownerSentiment = string(res.OwnerOpinion.Sentiment)
		ownerRationale = res.OwnerOpinion.Rationale
	}
	return []string{
		r.Item.Timestamp.In(loc).Format(time.DateTime),
		src.ID,
		r.Item.ItemID,
		r.Item.AuthorName,
		strconv.FormatBool(src.OwnerID != "" && r.Item.AuthorID == src.OwnerID),
		strconv.FormatBool(res.IsFinancial),
		string(res.ProductType),
		strings.Join(res.Instruments, "、"),
		string(res.Sentiment),
		ownerSentiment,
		ownerRationale,
		res.Rationale,
		res.Summary,
		res.ProviderUsed,
		strconv.FormatBool(res.Degraded),
		res.Failure,
		strconv.Itoa(r.Item.CommentsCount),
		excerpt(r.Item.Text, excerptRunes),
	}
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
