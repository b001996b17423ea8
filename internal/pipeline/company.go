package pipeline

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// NameFromDomain derives a readable company name from a domain: host parsing,
// www strip, first label, dashes to spaces, title case. "www.acme-corp.com"
// becomes "Acme Corp".
func NameFromDomain(domain string) string {
	host := strings.TrimSpace(strings.ToLower(domain))
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Host != "" {
			host = u.Host
		}
	}
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	if i := strings.Index(host, "."); i >= 0 {
		host = host[:i]
	}
	return titleCaser.String(strings.ReplaceAll(host, "-", " "))
}

// looksLikeDomain reports whether a competitor entry was given as a domain
// rather than a name.
func looksLikeDomain(s string) bool {
	return strings.Contains(s, ".") && !strings.Contains(s, " ")
}

// NormalizeCompetitors turns the submitted competitor list into display
// names: domain-looking entries go through the same heuristic as the company
// domain, and duplicates collapse case-insensitively in first-seen order.
func NormalizeCompetitors(competitors []string) []string {
	seen := make(map[string]bool, len(competitors))
	var out []string
	for _, c := range competitors {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if looksLikeDomain(c) {
			c = NameFromDomain(c)
		}
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	return out
}
