package domain

import "time"

// ItemType is the upstream topic kind.
type ItemType string

const (
	ItemTypeTalk     ItemType = "talk"
	ItemTypeQA       ItemType = "q&a"
	ItemTypeArticle  ItemType = "article"
	ItemTypeTask     ItemType = "task"
	ItemTypeSolution ItemType = "solution"
)

// RawItem is a post fetched from a source. Immutable once fetched.
type RawItem struct {
	ItemID        string    `json:"item_id"`
	SourceID      string    `json:"source_id"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	Timestamp     time.Time `json:"timestamp"`
	Type          ItemType  `json:"type"`
	Text          string    `json:"text"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"comments_count"`
	Comments      []Comment `json:"comments,omitempty"`
}

// Comment is a reply attached to a RawItem.
type Comment struct {
	CommentID  string    `json:"comment_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// HasOwnerContent reports whether the post or any comment was written by ownerID.
func (i RawItem) HasOwnerContent(ownerID string) bool {
	if ownerID == "" {
		return false
	}
	if i.AuthorID == ownerID {
		return true
	}
	for _, c := range i.Comments {
		if c.AuthorID == ownerID {
			return true
		}
	}
	return false
}
