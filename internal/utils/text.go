package utils

import "unicode/utf8"

// TruncateRunes cuts s to at most n runes. n <= 0 leaves s untouched.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
