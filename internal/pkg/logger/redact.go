package logger

import "strings"

// RedactEmail masks the local part of an address so logs never carry a
// full recipient. "john.doe@example.com" becomes "jo***@example.com";
// local parts of two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

// RedactToken keeps a short prefix of an opaque credential (grant IDs,
// API keys) so operators can correlate log lines without exposing it.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
