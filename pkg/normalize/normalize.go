// Package normalize turns raw identifier strings into canonical comparable
// forms. All functions are pure and deterministic. Unnormalizable input
// yields ("", false) rather than an error; callers treat an absent
// identifier as "not provided".
package normalize

import (
	"strings"
	"unicode"
)

// Email lowercases and trims an email address. Anything without an "@" is
// not a usable email and comes back absent.
func Email(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", false
	}
	return email, true
}

// Phone strips everything but digits, drops a leading country "1" when the
// result is 11 digits, and requires exactly 10 digits.
func Phone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()
	if len(phone) == 11 && phone[0] == '1' {
		phone = phone[1:]
	}
	if len(phone) != 10 {
		return "", false
	}
	return phone, true
}

// maxNameDigitRatio is the fraction of digit characters above which a name is
// treated as garbage (order numbers, phone fragments pasted into name fields).
const maxNameDigitRatio = 0.3

// Name validates and assembles a display name from first/last parts. A name
// is usable for identifier-less creation only when it has at least two
// tokens, no HTML or URL fragments, and a digit ratio below the threshold.
func Name(first, last string) (string, bool) {
	display := strings.Join(strings.Fields(strings.TrimSpace(first+" "+last)), " ")
	if display == "" {
		return "", false
	}

	tokens := strings.Fields(display)
	if len(tokens) < 2 {
		return "", false
	}

	lower := strings.ToLower(display)
	for _, frag := range []string{"<", ">", "http://", "https://", "www."} {
		if strings.Contains(lower, frag) {
			return "", false
		}
	}

	var digits, total int
	for _, r := range display {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 || float64(digits)/float64(total) >= maxNameDigitRatio {
		return "", false
	}

	return display, true
}
