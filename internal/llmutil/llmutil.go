// Package llmutil holds helpers shared by the entry points: provider
// registration and post-processing of generated text before it is sent to
// a chat.
package llmutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the Telegram limit for a single text message, in
// UTF-16 code units. Counting runes keeps us under it for everything outside
// the astral planes.
const MaxMessageLength = 4096

var thinkingTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkingTags removes <think>...</think> blocks that reasoning models
// prepend to their answer, then trims surrounding whitespace.
func StripThinkingTags(s string) string {
	return strings.TrimSpace(thinkingTags.ReplaceAllString(s, ""))
}

// SplitMessage breaks text into chunks of at most limit runes. Chunks end at
// the last newline inside the window when there is one, otherwise at the
// last space, otherwise mid-word. Empty input yields no chunks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		window := prefixRunes(text, limit)
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// prefixRunes returns the first n runes of s.
func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
