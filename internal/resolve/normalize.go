// Package resolve deduplicates extracted entity names into canonical
// entities using normalized keys and fuzzy string matching.
package resolve

import (
	"strings"
	"unicode"
)

// stopwords are tokens dropped from normalized entity keys: articles,
// conjunctions, and corporate suffixes that never distinguish companies.
var stopwords = map[string]bool{
	"a":            true,
	"an":           true,
	"and":          true,
	"the":          true,
	"company":      true,
	"co":           true,
	"corp":         true,
	"corporation":  true,
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"ltd":          true,
	"limited":      true,
}

// Normalize reduces an entity name to a comparison key: lowercase, leading
// @ stripped, & spelled out, punctuation removed, stopword tokens dropped,
// and the surviving tokens joined without spaces. "OpenAI" and
// "open ai, inc." both normalize to "openai".
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "@")
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
		// Everything else (punctuation) drops out entirely.
	}

	var kept []string
	for _, tok := range strings.Fields(b.String()) {
		if stopwords[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, "")
}
