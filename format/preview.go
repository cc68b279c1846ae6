package format

import (
	"strings"
	"unicode/utf8"
)

// Preview collapses whitespace in s to single spaces and cuts it to at most
// n runes, ending in "..." when cut.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	if n <= 3 {
		return strings.Repeat(".", max(n, 0))
	}

	runes := []rune(s)
	return strings.TrimRight(string(runes[:n-3]), " ") + "..."
}
