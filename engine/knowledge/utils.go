package knowledge

import (
	"fmt"
	"strings"
)

// FormatDocuments renders retrieved documents as a numbered block suitable
// for inclusion in a prompt.
func FormatDocuments(docs []*Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, doc.Text())
	}
	return b.String()
}

// ExtractTexts returns the embeddable text of each document in order.
func ExtractTexts(docs []*Document) []string {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text()
	}
	return texts
}

// FilterByScore drops documents scoring strictly below threshold. Unscored
// documents are kept.
func FilterByScore(docs []*Document, threshold float64) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Score != nil && *doc.Score < threshold {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// LimitDocuments truncates docs to at most limit entries. A non-positive
// limit returns docs unchanged.
func LimitDocuments(docs []*Document, limit int) []*Document {
	if limit <= 0 || len(docs) <= limit {
		return docs
	}
	return docs[:limit]
}

// CombineTexts joins document texts with a blank line between entries.
func CombineTexts(docs []*Document) string {
	texts := ExtractTexts(docs)
	return strings.Join(texts, "\n\n")
}
