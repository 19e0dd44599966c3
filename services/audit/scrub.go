package audit

import (
	"regexp"
)

// credentialPattern matches a credential embedded in free text. When group is
// non-zero only that submatch is replaced.
type credentialPattern struct {
	name  string
	re    *regexp.Regexp
	group int
}

var credentialPatterns = []credentialPattern{
	{name: "jwt", re: regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)},
	{name: "bearer", re: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-\.=]{20,})`), group: 1},
	{name: "api_key", re: regexp.MustCompile(`\bak_[0-9a-f]{32,}\b`)},
	{name: "private_key", re: regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE\s+KEY-----[\s\S]*?(?:-----END\s+(?:RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE\s+KEY-----|$)`)},
	{name: "url_password", re: regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@]+:([^\s@/]+)@`), group: 1},
	{name: "assignment", re: regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|token)\s*[:=]\s*['"]?([^\s'",;&]{6,})`), group: 1},
}

// ScrubString replaces credential-shaped substrings of s
func ScrubString(s string) string {
	if len(s) < 6 {
		return s
	}
	for _, p := range credentialPatterns {
		if p.group == 0 {
			s = p.re.ReplaceAllString(s, Redacted)
			continue
		}
		s = replaceGroup(p.re, s, p.group)
	}
	return s
}

// ScrubbedKinds names the credential patterns found in s
func ScrubbedKinds(s string) []string {
	var kinds []string
	for _, p := range credentialPatterns {
		if p.re.MatchString(s) {
			kinds = append(kinds, p.name)
		}
	}
	return kinds
}

func replaceGroup(re *regexp.Regexp, s string, group int) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	out := make([]byte, 0, len(s))
	last := 0
	for _, m := range matches {
		start, end := m[2*group], m[2*group+1]
		if start < 0 {
			continue
		}
		out = append(out, s[last:start]...)
		out = append(out, Redacted...)
		last = end
	}
	out = append(out, s[last:]...)
	return string(out)
}
