package tgui

import "unicode/utf8"

// Bot API limits, counted in characters after entity parsing.
const (
	MessageLimit = 4096
	CaptionLimit = 1024
)

// TruncRunes returns s cut to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
