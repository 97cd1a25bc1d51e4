// Package redact scrubs credentials and API keys from text before it
// reaches logs, alert payloads, or the state journal. The same catalog
// drives js_analyze in detect mode, where matches are reported instead
// of replaced.
package redact

import (
	"fmt"
	"regexp"
)

// Hit is a single catalog match found by Scan.
type Hit struct {
	Kind  string
	Match string
	Start int
	End   int
}

type pattern struct {
	kind string
	re   *regexp.Regexp
}

// catalog is compiled once at load. A pattern that fails to compile is a
// programming error, so mustCompile panics rather than returning it.
var catalog = []pattern{
	{"aws-key", mustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"aws-secret", mustCompile(`(?i)\baws[_-]?(?:secret[_-]?)?(?:access[_-]?)?key[_-]?(?:id)?\s*[=:]\s*["']?[A-Za-z0-9/+=]{20,}["']?`)},
	{"google-key", mustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
	{"github-token", mustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[0-9A-Za-z]{36,}\b`)},
	{"slack-token", mustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`)},
	{"slack-webhook", mustCompile(`https://hooks\.slack\.com/services/T[0-9A-Za-z]+/B[0-9A-Za-z]+/[0-9A-Za-z]+`)},
	{"openai-key", mustCompile(`\bsk-[0-9A-Za-z\-_]{20,}\b`)},
	{"jwt", mustCompile(`\beyJ[0-9A-Za-z_\-]{8,}\.[0-9A-Za-z_\-]{8,}\.[0-9A-Za-z_\-]{8,}\b`)},
	// Value classes exclude '[' so an already-redacted placeholder is never
	// matched again; String is a fixed point on its own output.
	{"credential", mustCompile(`(?i)\b(api[_-]?key|token|secret|password|passwd|authorization|bearer)\b\s*[=:]\s*["']?[^\s"'&\[\]]{6,}["']?`)},
	{"hex-secret", mustCompile(`(?i)\b(?:key|token|secret|hash|auth)[a-z_]*\s*[=:]\s*["']?[0-9a-f]{32,}["']?`)},
}

func mustCompile(expr string) *regexp.Regexp {
	re, err := regexp.Compile(expr)
	if err != nil {
		panic(fmt.Sprintf("redact: bad catalog pattern %q: %v", expr, err))
	}
	return re
}

// String replaces every catalog match in s with [REDACTED:<kind>].
// Patterns are applied in catalog order; earlier, more specific kinds win
// over the generic credential patterns.
func String(s string) string {
	for _, p := range catalog {
		s = p.re.ReplaceAllString(s, "[REDACTED:"+p.kind+"]")
	}
	return s
}

// Bytes is String for byte slices.
func Bytes(b []byte) []byte {
	return []byte(String(string(b)))
}

// Scan returns every catalog match in s without modifying it. Used by
// js_analyze, where the raw finding belongs in the artifact and only the
// log line gets redacted.
func Scan(s string) []Hit {
	var hits []Hit
	for _, p := range catalog {
		for _, loc := range p.re.FindAllStringIndex(s, -1) {
			hits = append(hits, Hit{
				Kind:  p.kind,
				Match: s[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return hits
}

// Kinds returns the catalog kinds in application order.
func Kinds() []string {
	kinds := make([]string, len(catalog))
	for i, p := range catalog {
		kinds[i] = p.kind
	}
	return kinds
}
