package runner

import "strings"

// SanitizeHeaderValue strips CR, LF, and non-printable bytes from values
// destined for HTTP tool headers or URL arguments. The runner never
// interprets shell metacharacters, but header injection through a tool's
// -H flag is still the operator's problem to prevent.
func SanitizeHeaderValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
