// Package sanitize redacts tokens that look like emails, phone numbers, or
// password-bearing key=value pairs before text reaches a client or log, per
// spec §6's environment note and invariant P10.
package sanitize

import "regexp"

const redacted = "[REDACTED]"

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	// secretKeyRE matches key=value pairs whose key names a credential, so the
	// value (not the key) is redacted.
	secretKeyRE = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_\-]?key|token|apikey)(\s*[:=]\s*)\S+`)
)

// Text replaces every email-like, phone-like, or password-keyed token in s
// with [REDACTED].
func Text(s string) string {
	s = secretKeyRE.ReplaceAllString(s, "${1}${2}"+redacted)
	s = emailRE.ReplaceAllString(s, redacted)
	s = phoneRE.ReplaceAllString(s, redacted)
	return s
}
