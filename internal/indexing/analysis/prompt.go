package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/llm"
)

const systemPrompt = `You are a professional financial analyst reading posts from a paid discussion group.
Posts are usually in Chinese. Judge each post together with its comments.
Reply with JSON only. Never add prose before or after the JSON.`

const assessmentSchema = `{
  "is_financial": true or false,
  "product_type": "stock | futures | crypto | fund | bond | other | none",
  "instruments": ["concrete ticker, contract or coin, with code when known"],
  "sentiment": "bullish | bearish | neutral | mixed | unknown",
  "rationale": "the reasoning behind the view, briefly",
  "summary": "one sentence with the core view"%s
}`

const ownerField = `,
  "owner_opinion": { same fields as above, covering only text marked [OWNER] }`

const defaultMaxTextRunes = 2000

type promptBuilder struct {
	maxRunes int
}

func (b promptBuilder) single(item domain.RawItem, ownerID string) llm.Request {
	withOwner := item.HasOwnerContent(ownerID)

	var sb strings.Builder
	sb.WriteString("Analyze the following post and its comments.\n\n")
	b.writeItem(&sb, item, ownerID)
	sb.WriteString("\nReturn one JSON object:\n")
	sb.WriteString(schema(withOwner))
	sb.WriteString("\nIf the post is not about markets or investing, set is_financial to false and the other fields to \"none\".")
	if withOwner {
		sb.WriteString("\nInclude owner_opinion because the group owner wrote part of this content.")
	}
	return llm.Request{System: systemPrompt, Prompt: sb.String()}
}

func (b promptBuilder) batch(items []domain.RawItem, ownerID string) llm.Request {
	withOwner := false
	for _, it := range items {
		if it.HasOwnerContent(ownerID) {
			withOwner = true
			break
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze each of the following %d posts independently.\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&sb, "\n### item_id: %s\n", it.ItemID)
		b.writeItem(&sb, it, ownerID)
	}
	sb.WriteString("\nReturn a JSON array with exactly one object per post, in the same order. Each object is:\n")
	sb.WriteString(`{"item_id": "the item_id above", ...fields}` + "\nwhere the fields are:\n")
	sb.WriteString(schema(withOwner))
	if withOwner {
		sb.WriteString("\nOnly include owner_opinion for posts containing text marked [OWNER].")
	}
	return llm.Request{System: systemPrompt, Prompt: sb.String()}
}

func (b promptBuilder) writeItem(sb *strings.Builder, item domain.RawItem, ownerID string) {
	author := item.AuthorName
	if author == "" {
		author = "unknown"
	}
	if ownerID != "" && item.AuthorID == ownerID {
		author = "[OWNER] " + author
	}
	fmt.Fprintf(sb, "Post by %s:\n%s\n", author, truncateRunes(item.Text, b.maxRunes))

	sb.WriteString("Comments:\n")
	if len(item.Comments) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	var cb strings.Builder
	for _, c := range item.Comments {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		name := c.AuthorName
		if name == "" {
			name = "anonymous"
		}
		if ownerID != "" && c.AuthorID == ownerID {
			name = "[OWNER] " + name
		}
		fmt.Fprintf(&cb, "- %s: %s\n", name, c.Text)
	}
	sb.WriteString(truncateRunes(cb.String(), b.maxRunes))
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
}

func schema(withOwner bool) string {
	if withOwner {
		return fmt.Sprintf(assessmentSchema, ownerField)
	}
	return fmt.Sprintf(assessmentSchema, "")
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
