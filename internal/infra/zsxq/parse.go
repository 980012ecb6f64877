package zsxq

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// Inline entities look like <e type="hashtag" hid="1" title="%23%E8%82%A1%E7%A5%A8%23" />.
var entityRe = regexp.MustCompile(`<e [^>]*?title="([^"]*)"[^>]*/>`)
var bareEntityRe = regexp.MustCompile(`<e [^>]*/>`)

// cleanText replaces inline entities with their decoded titles.
func cleanText(s string) string {
	s = entityRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := entityRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return ""
		}
		if decoded, err := url.QueryUnescape(sub[1]); err == nil {
			return decoded
		}
		return sub[1]
	})
	s = bareEntityRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseTime parses an upstream timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// FormatTime renders t the way the end_time parameter expects.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func toItem(groupID string, t topic) (domain.RawItem, error) {
	ts, err := ParseTime(t.CreateTime)
	if err != nil {
		return domain.RawItem{}, fmt.Errorf("topic %s: bad create_time %q: %w", t.TopicID, t.CreateTime, err)
	}

	var parts []string
	for _, block := range []*textBlock{t.Talk, t.Question, t.Answer, t.Task, t.Solution} {
		if block == nil {
			continue
		}
		if txt := cleanText(block.Text); txt != "" {
			parts = append(parts, txt)
		}
		if block.Article != nil {
			if title := strings.TrimSpace(block.Article.Title); title != "" {
				parts = append(parts, title)
			}
			if txt := cleanText(block.Article.Text); txt != "" {
				parts = append(parts, txt)
			}
		}
	}

	owner := t.Owner
	if owner == nil && t.Talk != nil {
		owner = t.Talk.Owner
	}
	if owner == nil && t.Question != nil {
		owner = t.Question.Owner
	}

	item := domain.RawItem{
		ItemID:        string(t.TopicID),
		SourceID:      groupID,
		Timestamp:     ts,
		Type:          domain.ItemType(t.Type),
		Text:          strings.Join(parts, "\n"),
		LikesCount:    t.LikesCount,
		CommentsCount: t.CommentsCount,
	}
	if owner != nil {
		item.AuthorID = string(owner.UserID)
		item.AuthorName = owner.Name
	}
	return item, nil
}

func toComment(c comment) domain.Comment {
	out := domain.Comment{
		CommentID: string(c.CommentID),
		Text:      cleanText(c.Text),
	}
	if ts, err := ParseTime(c.CreateTime); err == nil {
		out.Timestamp = ts
	}
	if c.Owner != nil {
		out.AuthorID = string(c.Owner.UserID)
		out.AuthorName = c.Owner.Name
	}
	return out
}
