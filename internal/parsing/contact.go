package parsing

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	phoneCharsRe   = regexp.MustCompile(`[^\d+]`)
	nonDigitRe     = regexp.MustCompile(`[^\d]`)
	indianMobileRe = regexp.MustCompile(`^[6-9]\d{9}$`)
)

// NormalizeEmail extracts and lowercases the address part.
func NormalizeEmail(s string) string {
	s = NormalizeText(s)
	if addr, err := mail.ParseAddress(s); err == nil {
		s = addr.Address
	}
	return strings.ToLower(s)
}

// EmailDomain returns the lowercased domain of an address, or "".
func EmailDomain(s string) string {
	addr := NormalizeEmail(s)
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// NormalizePhone returns an E.164 number, assuming India for bare
// ten-digit mobiles. Unrecognized input yields "".
func NormalizePhone(s string) string {
	raw := NormalizeText(strings.TrimPrefix(strings.TrimSpace(s), "whatsapp:"))
	if raw == "" {
		return ""
	}
	digits := strings.ReplaceAll(phoneCharsRe.ReplaceAllString(raw, ""), "+", "")
	if strings.HasPrefix(digits, "91") && len(digits) >= 12 {
		return "+" + digits[:12]
	}
	if indianMobileRe.MatchString(digits) {
		return "+91" + digits
	}
	if strings.HasPrefix(raw, "+") {
		if only := nonDigitRe.ReplaceAllString(raw, ""); len(only) >= 10 {
			return "+" + only
		}
	}
	return ""
}
