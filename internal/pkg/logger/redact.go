package logger

import "strings"

// RedactEmail masks a recipient address for safe logging, keeping the
// domain and at most two characters of the local part, so
// "john.doe@example.com" becomes "jo***@example.com". Anything that
// does not look like an address is fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local, domain := parts[0], parts[1]
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
