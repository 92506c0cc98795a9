package common

import "strings"

// MaskEmail reduces an email address to a hint safe to echo back before the
// caller has proven ownership, e.g. "alice@x.com" -> "al***@x.com". Local
// parts shorter than two characters keep their first character only.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	keep := 2
	if len(local) < keep {
		keep = 1
	}
	return local[:keep] + "***" + domain
}
