package sampling

import "regexp"

// scrubPatterns is the fixed catalog of secret-shaped substrings redacted
// from sampling content when a Config enables scrubbing. Resolved as a
// fixed catalog rather than a pluggable one (see SPEC_FULL.md §9): adding a
// plugin surface here would let sandboxed code influence what the broker
// considers secret.
var scrubPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"pem_block", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+ PRIVATE KEY-----.*?-----END [A-Z ]+ PRIVATE KEY-----`)},
	{"api_token", regexp.MustCompile(`\b(sk|ghp)_[A-Za-z0-9]{16,}\b`)},
}

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

// scrub redacts every known secret shape from s. When redactPII is set it
// also redacts email addresses.
func scrub(s string, redactPII bool) string {
	for _, p := range scrubPatterns {
		s = p.re.ReplaceAllString(s, "[REDACTED:"+p.kind+"]")
	}
	if redactPII {
		s = emailPattern.ReplaceAllString(s, "[REDACTED:email]")
	}
	return s
}
