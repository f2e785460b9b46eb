package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Normalize case-folds text and reduces it to space-separated words,
// padded with a leading and trailing space so tokens can be matched
// on word boundaries with a plain substring search.
func Normalize(text string) string {
	// A Caser carries state and is not safe for concurrent use
	folded := cases.Fold().String(text)

	var b strings.Builder
	b.Grow(len(folded) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// HasToken reports whether token occurs as whole words in normalized text
func HasToken(normalized, token string) bool {
	t := Normalize(token)
	if strings.TrimSpace(t) == "" {
		return false
	}
	return strings.Contains(normalized, t)
}

// FirstToken returns the first token from tokens found in normalized text
func FirstToken(normalized string, tokens []string) (string, bool) {
	for _, token := range tokens {
		if HasToken(normalized, token) {
			return token, true
		}
	}
	return "", false
}

// Words returns the words of normalized text
func Words(normalized string) []string {
	return strings.Fields(normalized)
}
