// Package fetcher turns paged, newest-first upstream listings into an
// ascending, cursor-bounded stream of items.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
	"github.com/vietddude/groupwatch/internal/infra/ratelimit"
	"github.com/vietddude/groupwatch/internal/infra/retry"
	"github.com/vietddude/groupwatch/internal/infra/zsxq"
)

// Upstream is the paged listing API.
type Upstream interface {
	ListTopics(ctx context.Context, creds domain.Credentials, groupID string, endTime time.Time) (zsxq.Page, error)
	ListComments(ctx context.Context, creds domain.Credentials, topicID string) ([]domain.Comment, error)
}

// SessionProvider supplies upstream credentials.
type SessionProvider interface {
	GetValidSession(ctx context.Context, src domain.Source) (domain.Credentials, error)
	Reauthenticate(ctx context.Context, src domain.Source) (domain.Credentials, error)
}

// Config bounds a fetch.
type Config struct {
	// Floor excludes items created before it. Zero means no floor.
	Floor time.Time
	// Ceiling excludes items created at or after it. Zero means no ceiling.
	Ceiling time.Time
	// FetchComments loads comments for items that report any.
	FetchComments bool
}

// Fetcher is stateless between FetchSince calls.
type Fetcher struct {
	upstream Upstream
	sessions SessionProvider
	limiter  ratelimit.Limiter
	retry    *retry.Executor
	cfg      Config
	log      *slog.Logger
}

// New creates a Fetcher. Every upstream attempt, including retries, first
// acquires limiter.
func New(upstream Upstream, sessions SessionProvider, limiter ratelimit.Limiter, exec *retry.Executor, cfg Config) *Fetcher {
	return &Fetcher{
		upstream: upstream,
		sessions: sessions,
		limiter:  limiter,
		retry:    exec,
		cfg:      cfg,
		log:      slog.Default(),
	}
}

// WithConfig returns a copy of the fetcher using cfg.
func (f *Fetcher) WithConfig(cfg Config) *Fetcher {
	cp := *f
	cp.cfg = cfg
	return &cp
}

// session holds credentials that may be refreshed mid-fetch.
type session struct {
	creds    domain.Credentials
	reauthed bool
}

// FetchSince yields every item strictly after cur, ascending by
// (timestamp, item id). A non-nil error is always the last element.
func (f *Fetcher) FetchSince(ctx context.Context, src domain.Source, cur domain.Cursor) iter.Seq2[domain.RawItem, error] {
	return func(yield func(domain.RawItem, error) bool) {
		creds, err := f.sessions.GetValidSession(ctx, src)
		if err != nil {
			yield(domain.RawItem{}, fmt.Errorf("source %s: get session: %w", src.ID, err))
			return
		}
		sess := &session{creds: creds}

		items, page, err := f.walk(ctx, src, cur, sess)
		if err != nil {
			if retry.IsExhausted(err) {
				err = &PartialFetchError{SourceID: src.ID, Reached: cur, Page: page, Err: err}
			}
			yield(domain.RawItem{}, err)
			return
		}

		slices.SortFunc(items, func(a, b domain.RawItem) int {
			return domain.ComparePosition(a.Timestamp, a.ItemID, b.Timestamp, b.ItemID)
		})

		reached := cur
		for _, item := range items {
			if f.cfg.FetchComments && item.CommentsCount > 0 {
				comments, err := f.comments(ctx, src, sess, item)
				if err != nil {
					if retry.IsExhausted(err) {
						err = &PartialFetchError{SourceID: src.ID, Reached: reached, ItemID: item.ItemID, Err: err}
					}
					yield(domain.RawItem{}, err)
					return
				}
				item.Comments = comments
			}

			metrics.ItemsFetched.WithLabelValues(src.ID).Inc()
			if !yield(item, nil) {
				return
			}
			reached = domain.CursorAt(item)
		}
	}
}

// walk pages backwards from the newest item until one of the stop rules holds.
func (f *Fetcher) walk(ctx context.Context, src domain.Source, cur domain.Cursor, sess *session) ([]domain.RawItem, int, error) {
	var (
		out  []domain.RawItem
		seen = make(map[string]struct{})
		end  = f.cfg.Ceiling
	)

	for page := 1; ; page++ {
		var pg zsxq.Page
		err := f.call(ctx, src, sess, func(ctx context.Context, creds domain.Credentials) error {
			var err error
			pg, err = f.upstream.ListTopics(ctx, creds, src.ID, end)
			return err
		})
		if err != nil {
			return nil, page, fmt.Errorf("source %s page %d: %w", src.ID, page, err)
		}
		metrics.PagesFetched.WithLabelValues(src.ID).Inc()

		if len(pg.Items) == 0 {
			if pg.Skipped > 0 {
				// Without a readable create_time there is no way to page
				// past these topics.
				return nil, page, fmt.Errorf("source %s page %d: all %d topics unparsable: %w",
					src.ID, page, pg.Skipped, domain.ErrPermanent)
			}
			break
		}

		var (
			fresh          int
			allCovered     = true
			allBeforeFloor = true
			oldest         = pg.Items[0].Timestamp
		)
		for _, it := range pg.Items {
			if it.Timestamp.Before(oldest) {
				oldest = it.Timestamp
			}
			if _, dup := seen[it.ItemID]; dup {
				continue
			}
			seen[it.ItemID] = struct{}{}
			fresh++

			covered := cur.Covers(it.Timestamp, it.ItemID)
			beforeFloor := !f.cfg.Floor.IsZero() && it.Timestamp.Before(f.cfg.Floor)
			if !covered {
				allCovered = false
			}
			if !beforeFloor {
				allBeforeFloor = false
			}
			if covered || beforeFloor {
				continue
			}
			if !f.cfg.Ceiling.IsZero() && !it.Timestamp.Before(f.cfg.Ceiling) {
				continue
			}
			out = append(out, it)
		}

		f.log.Debug("Fetched page",
			"source", src.ID, "page", page, "items", len(pg.Items), "fresh", fresh, "kept", len(out))

		// Later pages only hold items at or before oldest.
		pastCursor := !cur.IsZero() && oldest.Before(cur.LastTimestamp)
		pastFloor := !f.cfg.Floor.IsZero() && oldest.Before(f.cfg.Floor)
		if (fresh > 0 && (allCovered || allBeforeFloor)) || pastCursor || pastFloor || !pg.HasMore {
			break
		}
		end = nextEnd(end, oldest)
	}
	return out, 0, nil
}

// nextEnd picks the end time of the following page. The upstream excludes
// items at exactly end, so the next page starts just past oldest and
// re-lists the items sharing its timestamp; seen drops the repeats. When
// that would not move end back, the page held a single instant and the
// walk steps strictly past it. The result is always before end.
func nextEnd(end, oldest time.Time) time.Time {
	next := oldest.Add(time.Millisecond)
	if end.IsZero() || next.Before(end) {
		return next
	}
	if oldest.Before(end) {
		return oldest
	}
	return end.Add(-time.Millisecond)
}

func (f *Fetcher) comments(ctx context.Context, src domain.Source, sess *session, item domain.RawItem) ([]domain.Comment, error) {
	var comments []domain.Comment
	err := f.call(ctx, src, sess, func(ctx context.Context, creds domain.Credentials) error {
		var err error
		comments, err = f.upstream.ListComments(ctx, creds, item.ItemID)
		return err
	})
	if err == nil {
		return comments, nil
	}
	if errors.Is(err, domain.ErrPermanent) {
		// e.g. the topic was deleted after listing; keep the post itself.
		f.log.Warn("Skipping comments", "source", src.ID, "item", item.ItemID, "error", err)
		return nil, nil
	}
	return nil, fmt.Errorf("source %s item %s comments: %w", src.ID, item.ItemID, err)
}

// call runs op under the rate limiter and retry policy, re-authenticating
// once per fetch when the upstream rejects the session.
func (f *Fetcher) call(
	ctx context.Context,
	src domain.Source,
	sess *session,
	op func(ctx context.Context, creds domain.Credentials) error,
) error {
	for {
		err := f.retry.Execute(ctx, func(ctx context.Context) error {
			if err := f.limiter.Acquire(ctx); err != nil {
				return err
			}
			return op(ctx, sess.creds)
		})
		if err == nil || sess.reauthed || !errors.Is(err, domain.ErrAuthExpired) {
			return err
		}

		f.log.Warn("Session rejected by upstream", "source", src.ID, "error", err)
		creds, rerr := f.sessions.Reauthenticate(ctx, src)
		if rerr != nil {
			return fmt.Errorf("reauthenticate: %w", rerr)
		}
		sess.creds = creds
		sess.reauthed = true
	}
}
