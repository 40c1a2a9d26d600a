package util

import (
	"strings"
)

// NormalizePhone strips formatting from raw and prefixes countryCode when the
// number looks national (10 or 11 digits). Protocol suffixes such as
// "@s.whatsapp.net" are dropped. Only ASCII digits are kept. Returns "" when
// no digits remain.
func NormalizePhone(raw, countryCode string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return ""
	}

	if countryCode != "" && len(digits) <= 11 {
		digits = countryCode + digits
	}
	return digits
}

// MaskAddress hides all but the last four digits of a phone address for logs.
func MaskAddress(addr string) string {
	if len(addr) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(addr)-4) + addr[len(addr)-4:]
}

// IsQuickReply reports whether text is a bare option code like "1" or " 2 ".
func IsQuickReply(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > 2 {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
