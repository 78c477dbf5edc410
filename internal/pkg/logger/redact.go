package logger

import "strings"

// RedactEmail masks an email address for safe logging. The dispatch path
// logs recipients at every decision point, so the mask keeps just enough
// of the local part to correlate log lines without exposing the address.
//
// "john.doe@example.com" → "jo***@example.com"
// Local parts of two characters or fewer are fully masked.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
