package zsxq

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// TimeLayout is the upstream timestamp format, e.g. 2024-03-01T09:30:00.123+0800.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// envelope is the common response wrapper.
type envelope struct {
	Succeeded bool            `json:"succeeded"`
	Code      int             `json:"code"`
	Info      string          `json:"info"`
	Error     string          `json:"error"`
	RespData  json.RawMessage `json:"resp_data"`
}

// flexID accepts ids encoded as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}

type user struct {
	UserID flexID `json:"user_id"`
	Name   string `json:"name"`
}

type textBlock struct {
	Owner   *user    `json:"owner"`
	Text    string   `json:"text"`
	Article *article `json:"article"`
}

type article struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type topic struct {
	TopicID       flexID     `json:"topic_id"`
	Type          string     `json:"type"`
	CreateTime    string     `json:"create_time"`
	LikesCount    int        `json:"likes_count"`
	CommentsCount int        `json:"comments_count"`
	Owner         *user      `json:"owner"`
	Talk          *textBlock `json:"talk"`
	Question      *textBlock `json:"question"`
	Answer        *textBlock `json:"answer"`
	Task          *textBlock `json:"task"`
	Solution      *textBlock `json:"solution"`
}

type topicsData struct {
	Topics []topic `json:"topics"`
}

type comment struct {
	CommentID  flexID `json:"comment_id"`
	CreateTime string `json:"create_time"`
	Text       string `json:"text"`
	Owner      *user  `json:"owner"`
	LikesCount int    `json:"likes_count"`
}

type commentsData struct {
	Comments []comment `json:"comments"`
}
