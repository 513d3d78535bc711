package gesture

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FormatFallback joins words into a sentence: "hello", "friend" becomes
// "Hello, friend.".
func FormatFallback(words []string) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			parts = append(parts, w)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	text := strings.Join(parts, ", ")
	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return text
}

// cleanGenerated trims whitespace and wrapping quotes from generated text.
func cleanGenerated(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}
