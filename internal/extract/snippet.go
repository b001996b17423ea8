package extract

import "strings"

// snippetRadius is how many characters of context to keep on each side of a
// matched surface form.
const snippetRadius = 60

// SurfaceForm returns the first of the candidate names found
// case-insensitively in the text, as written in the text. Empty when none
// match.
func SurfaceForm(text string, candidates []string) string {
	lower := strings.ToLower(text)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if idx := strings.Index(lower, strings.ToLower(c)); idx >= 0 {
			return text[idx : idx+len(c)]
		}
	}
	return ""
}

// Snippet returns the surface form with up to snippetRadius characters of
// surrounding context. When the surface form is absent it returns a prefix
// of the text.
func Snippet(text, surface string) string {
	if surface == "" {
		return clip(text, 2*snippetRadius)
	}

	idx := strings.Index(strings.ToLower(text), strings.ToLower(surface))
	if idx < 0 {
		return clip(text, 2*snippetRadius)
	}

	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(surface) + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

func clip(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[:n])
}
