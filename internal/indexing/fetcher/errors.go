package fetcher

import (
	"fmt"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// PartialFetchError reports a fetch that gave up after exhausting retries.
// Reached is the position of the last item handed to the caller, or the
// input cursor if nothing was yielded.
type PartialFetchError struct {
	SourceID string
	Reached  domain.Cursor
	Page     int
	ItemID   string
	Err      error
}

func (e *PartialFetchError) Error() string {
	where := fmt.Sprintf("page %d", e.Page)
	if e.ItemID != "" {
		where = "comments of item " + e.ItemID
	}
	return fmt.Sprintf("%s of source %s at %s: %v", domain.ErrPartialFetch, e.SourceID, where, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, domain.ErrPartialFetch) hold.
func (e *PartialFetchError) Is(target error) bool {
	return target == domain.ErrPartialFetch
}
