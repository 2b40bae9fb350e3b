package retrieval

import "strings"

// Sentinels rendered in place of context when no passage was found.
const (
	NoInternalContext = "No internal context found."
	NoRelevantContext = "No relevant context found."
)

// FormatContext joins passage texts with blank lines. With zero passages it
// returns the sentinel.
func FormatContext(passages []Passage, sentinel string) string {
	if len(passages) == 0 {
		return sentinel
	}

	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}

	return strings.Join(texts, "\n\n")
}
