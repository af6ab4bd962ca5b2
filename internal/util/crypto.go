package util

import (
	"crypto/subtle"
	"strings"
)

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskNumber keeps the first four and last two characters of a phone number
// or account id, e.g. 5551234567 -> 5551****67.
func MaskNumber(number string) string {
	if i := strings.IndexAny(number, "@:"); i >= 0 {
		number = number[:i]
	}
	if len(number) <= 6 {
		return "****"
	}
	return number[:4] + strings.Repeat("*", len(number)-6) + number[len(number)-2:]
}

// NormalizeNumber strips the punctuation people type around phone numbers.
// Anything else is left for validation to reject.
func NormalizeNumber(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(number))
}

// FormatPairingCode upper-cases a code and groups it in blocks of four,
// e.g. abcd1234 -> ABCD-1234.
func FormatPairingCode(code string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToUpper(code) {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			continue
		}
		if n > 0 && n%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
