// Package embed builds and truncates the embedding content for a task,
// grounded on the teacher's internal/shared/token package (tiktoken-go
// cl100k_base counting, used there for context-window budgeting; used here
// to enforce embedding_max_content_length).
package embed

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the cl100k_base token count of text, falling back to a
// whitespace-based estimate if the encoder failed to load.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := getEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	runeEstimate := len([]rune(trimmed)) / 4
	if words > runeEstimate {
		return words
	}
	return runeEstimate
}

// TruncateToTokens truncates text to at most maxTokens tokens, appending
// "..." when truncation occurred. maxTokens <= 0 disables truncation.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	enc := getEncoding()
	if enc == nil {
		return truncateFastEstimate(text, maxTokens)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	truncated := enc.Decode(tokens[:maxTokens])
	return truncated + "..."
}

func truncateFastEstimate(text string, maxTokens int) string {
	runes := []rune(text)
	maxRunes := maxTokens * 4
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}

// BuildContent renders the embedding content formula from spec §9.2:
// title + "\n\n" + description, with an optional "References:" block
// appended when refs is non-empty.
func BuildContent(title, description string, refs []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(description)
	if len(refs) > 0 {
		b.WriteString("\n\nReferences:\n")
		b.WriteString(strings.Join(refs, "\n"))
	}
	return b.String()
}

// BuildAndTruncate is the convenience entry point the embedding service
// calls: build the content, then truncate it to maxTokens.
func BuildAndTruncate(title, description string, refs []string, maxTokens int) string {
	return TruncateToTokens(BuildContent(title, description, refs), maxTokens)
}
