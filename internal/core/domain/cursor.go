package domain

import (
	"strconv"
	"strings"
	"time"
)

// Cursor marks the last item of a source that was fully analyzed.
// The zero value means "nothing ingested yet".
type Cursor struct {
	SourceID      string
	LastTimestamp time.Time
	LastItemID    string
	UpdatedAt     time.Time
}

// IsZero reports whether the cursor has never been committed.
func (c Cursor) IsZero() bool {
	return c.LastTimestamp.IsZero() && c.LastItemID == ""
}

// Covers reports whether an item at (ts, itemID) is at or before the cursor.
func (c Cursor) Covers(ts time.Time, itemID string) bool {
	if c.IsZero() {
		return false
	}
	return ComparePosition(ts, itemID, c.LastTimestamp, c.LastItemID) <= 0
}

// Compare orders two cursors of the same source by (timestamp, item id).
func (c Cursor) Compare(other Cursor) int {
	return ComparePosition(c.LastTimestamp, c.LastItemID, other.LastTimestamp, other.LastItemID)
}

// CursorAt builds a cursor positioned at the given item.
func CursorAt(item RawItem) Cursor {
	return Cursor{
		SourceID:      item.SourceID,
		LastTimestamp: item.Timestamp,
		LastItemID:    item.ItemID,
	}
}

// ComparePosition orders (timestamp, item id) pairs.
func ComparePosition(aTS time.Time, aID string, bTS time.Time, bID string) int {
	if c := aTS.Compare(bTS); c != 0 {
		return c
	}
	return CompareItemIDs(aID, bID)
}

// CompareItemIDs orders upstream ids: the empty id first, then decimal ids
// by value (ties by text), then any other id as a string. Keeping the
// three groups apart makes the order total even when id formats are mixed.
func CompareItemIDs(a, b string) int {
	an, aNum := parseItemID(a)
	bn, bNum := parseItemID(b)
	if c := idRank(a, aNum) - idRank(b, bNum); c != 0 {
		if c < 0 {
			return -1
		}
		return 1
	}
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
	}
	return strings.Compare(a, b)
}

func parseItemID(id string) (uint64, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	return n, err == nil
}

func idRank(id string, numeric bool) int {
	switch {
	case id == "":
		return 0
	case numeric:
		return 1
	default:
		return 2
	}
}
