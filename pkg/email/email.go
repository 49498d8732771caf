// Package email normalizes contact identifiers before they are used as
// identity signals.
package email

import (
	"strings"
	"unicode"
)

// Normalize trims and lower-cases an address. Values without an "@" with
// text on both sides normalize to "".
func Normalize(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	if strings.ContainsFunc(address, unicode.IsSpace) {
		return ""
	}
	return address
}

// NormalizePhone keeps digits and a leading "+". Fewer than seven digits is
// treated as no phone at all.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 7 {
		return ""
	}
	return out
}
