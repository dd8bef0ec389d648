package util

import (
	"html"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	return html.EscapeString(NormalizeName(s))
}

var suspiciousFragments = []string{"<", ">", "{", "}", "script", "onerror", "onload", "javascript:"}

// ContainsSuspicious reports markup or script fragments in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range suspiciousFragments {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// ContainsFormulaPrefix reports cells a spreadsheet would evaluate.
func ContainsFormulaPrefix(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[0] {
	case '=', '+', '@':
		return true
	case '-':
		return len(s) > 1 && (s[1] < '0' || s[1] > '9')
	}
	return false
}
