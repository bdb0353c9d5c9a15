package channel

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage splits text into chunks of at most maxLen bytes for
// delivery to a chat network. Each cut prefers, in order: the last
// newline past the midpoint of the window, the last space past the
// midpoint, then a hard cut. Hard cuts land on a rune boundary because
// chat APIs reject payloads that split a multi-byte character.
func SplitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := splitPoint(text, maxLen)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}

func splitPoint(text string, maxLen int) int {
	window := text[:maxLen]
	mid := maxLen / 2
	if nl := strings.LastIndexByte(window, '\n'); nl >= mid {
		return nl + 1
	}
	if sp := strings.LastIndexByte(window, ' '); sp >= mid {
		return sp + 1
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return maxLen
	}
	return cut
}
