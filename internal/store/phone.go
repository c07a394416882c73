package store

import "strings"

// NormalizePhone strips whitespace, dashes and parentheses. Account phones and
// blacklist entries are compared in this form.
func NormalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
}
