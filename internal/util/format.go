package util

import (
	"strings"
	"unicode"
)

// DigitsOnly drops every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func limitDigits(s string, max int) string {
	d := DigitsOnly(s)
	if len(d) > max {
		return d[:max]
	}
	return d
}

// NormalizePhone returns the 10-digit form of a US phone number, or false.
// A leading country code 1 on an 11-digit input is dropped.
func NormalizePhone(raw string) (string, bool) {
	d := DigitsOnly(raw)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return d, len(d) == 10
}

// FormatPhone renders (XXX) XXX-XXXX using at most the first 10 digits.
// Partial input is formatted progressively.
func FormatPhone(raw string) string {
	d := limitDigits(raw, 10)
	switch {
	case len(d) == 0:
		return ""
	case len(d) <= 3:
		return "(" + d
	case len(d) <= 6:
		return "(" + d[:3] + ") " + d[3:]
	default:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	}
}

// FormatCardNumber groups up to 16 digits in blocks of four.
func FormatCardNumber(raw string) string {
	d := limitDigits(raw, 16)
	var groups []string
	for len(d) > 4 {
		groups = append(groups, d[:4])
		d = d[4:]
	}
	if d != "" {
		groups = append(groups, d)
	}
	return strings.Join(groups, " ")
}

// FormatExpiry normalizes card expiry input to MM/YY.
func FormatExpiry(raw string) string {
	d := limitDigits(raw, 4)
	if len(d) >= 2 {
		return d[:2] + "/" + d[2:]
	}
	return d
}

func FormatCVV(raw string) string           { return limitDigits(raw, 4) }
func FormatRoutingNumber(raw string) string { return limitDigits(raw, 9) }
func FormatBankAccount(raw string) string   { return DigitsOnly(raw) }
func FormatZIP(raw string) string           { return limitDigits(raw, 5) }

// LastDigits returns the last n digits of s after stripping non-digits,
// or "" when fewer than n digits are present.
func LastDigits(s string, n int) string {
	d := DigitsOnly(s)
	if len(d) < n {
		return ""
	}
	return d[len(d)-n:]
}

// MaskDigits keeps the last visible digits and replaces the rest with '*'.
func MaskDigits(s string, visible int) string {
	d := DigitsOnly(s)
	if len(d) <= visible {
		return d
	}
	return strings.Repeat("*", len(d)-visible) + d[len(d)-visible:]
}

// NormalizeName collapses internal whitespace and trims control characters.
func NormalizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
