// Package filter decides cheaply and locally whether an item is worth
// sending to an analysis provider.
package filter

import "github.com/vietddude/groupwatch/internal/core/domain"

// Filter gates items before analysis. Implementations must be pure.
type Filter interface {
	// IsRelevant reports whether item may carry financial content.
	IsRelevant(item domain.RawItem) bool
}

// PassAll admits every non-empty item.
type PassAll struct{}

func (PassAll) IsRelevant(item domain.RawItem) bool {
	return !isEmpty(item)
}
