package claim

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize normalizes a lookup name (artifact type, target name):
// 1. Trim leading/trailing whitespace
// 2. Lowercase
// 3. Collapse internal whitespace to single spaces
func Normalize(s string) string {
	// Trim leading/trailing whitespace
	s = strings.TrimSpace(s)

	// Lowercase
	s = strings.ToLower(s)

	// Collapse internal whitespace to single spaces
	s = whitespaceRegex.ReplaceAllString(s, " ")

	return s
}

// TitleFor derives a display title from an artifact type ("summary" -> "Summary",
// "loss_report" -> "Loss Report").
func TitleFor(artifactType string) string {
	words := strings.FieldsFunc(Normalize(artifactType), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// IsText reports whether a mime type denotes a text file the agent may rewrite.
func IsText(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "text/")
}
