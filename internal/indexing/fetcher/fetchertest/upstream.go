// Package fetchertest provides an in-memory upstream for fetcher and
// pipeline tests.
package fetchertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/zsxq"
)

// Upstream serves Items newest-first in pages of PageSize. Items older than
// the requested end time are returned; InclusiveEnd also returns items at
// exactly the end time, like the real API sometimes does.
type Upstream struct {
	mu sync.Mutex

	Items        []domain.RawItem
	PageSize     int
	InclusiveEnd bool
	Comments     map[string][]domain.Comment

	// TopicErr, when set, can fail the n-th ListTopics call (1-based).
	TopicErr func(call int, end time.Time) error
	// CommentErr, when set, can fail ListComments for a topic.
	CommentErr func(topicID string) error
	// Unparsable, when set, reports every topic of the n-th ListTopics call
	// (1-based) as skipped, the way the client does for unreadable topics.
	Unparsable func(call int) bool

	topicCalls   int
	commentCalls int
}

// Items builds n items one step apart starting at start, with ids
// base, base+1, ...
func Items(sourceID string, n int, start time.Time, step time.Duration, base int) []domain.RawItem {
	out := make([]domain.RawItem, 0, n)
	for i := range n {
		out = append(out, domain.RawItem{
			ItemID:    fmt.Sprintf("%d", base+i),
			SourceID:  sourceID,
			AuthorID:  "author",
			Timestamp: start.Add(time.Duration(i) * step),
			Type:      domain.ItemTypeTalk,
			Text:      fmt.Sprintf("post %d", base+i),
		})
	}
	return out
}

func (u *Upstream) ListTopics(_ context.Context, _ domain.Credentials, _ string, end time.Time) (zsxq.Page, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.topicCalls++
	if u.TopicErr != nil {
		if err := u.TopicErr(u.topicCalls, end); err != nil {
			return zsxq.Page{}, err
		}
	}

	sorted := slices.Clone(u.Items)
	slices.SortFunc(sorted, func(a, b domain.RawItem) int {
		return domain.ComparePosition(b.Timestamp, b.ItemID, a.Timestamp, a.ItemID)
	})

	size := u.PageSize
	if size <= 0 {
		size = 20
	}
	var page []domain.RawItem
	for _, it := range sorted {
		if !end.IsZero() {
			if it.Timestamp.After(end) || (it.Timestamp.Equal(end) && !u.InclusiveEnd) {
				continue
			}
		}
		page = append(page, it)
		if len(page) == size {
			break
		}
	}
	if u.Unparsable != nil && u.Unparsable(u.topicCalls) {
		return zsxq.Page{HasMore: len(page) > 0, Skipped: len(page)}, nil
	}
	return zsxq.Page{Items: page, HasMore: len(page) > 0}, nil
}

func (u *Upstream) ListComments(_ context.Context, _ domain.Credentials, topicID string) ([]domain.Comment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.commentCalls++
	if u.CommentErr != nil {
		if err := u.CommentErr(topicID); err != nil {
			return nil, err
		}
	}
	return slices.Clone(u.Comments[topicID]), nil
}

// TopicCalls returns the number of ListTopics calls so far.
func (u *Upstream) TopicCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.topicCalls
}

// CommentCalls returns the number of ListComments calls so far.
func (u *Upstream) CommentCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.commentCalls
}

// Sessions is a SessionProvider returning fixed credentials.
type Sessions struct {
	mu      sync.Mutex
	Err     error
	reauths int
}

func (s *Sessions) GetValidSession(context.Context, domain.Source) (domain.Credentials, error) {
	if s.Err != nil {
		return domain.Credentials{}, s.Err
	}
	return domain.Credentials{Cookies: map[string]string{"zsxq_access_token": "test"}}, nil
}

func (s *Sessions) Reauthenticate(context.Context, domain.Source) (domain.Credentials, error) {
	s.mu.Lock()
	s.reauths++
	s.mu.Unlock()
	return domain.Credentials{Cookies: map[string]string{"zsxq_access_token": "fresh"}}, nil
}

// Reauths returns how many times Reauthenticate was called.
func (s *Sessions) Reauths() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reauths
}

// CountingLimiter admits every request and counts them.
type CountingLimiter struct {
	mu sync.Mutex
	n  int
}

func (l *CountingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
	return nil
}

// Count returns the number of acquisitions.
func (l *CountingLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}
