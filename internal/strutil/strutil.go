package strutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateUTF8 returns the longest prefix of s that is at most maxBytes
// bytes and does not split a multi-byte UTF-8 character.
func TruncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

const previewEllipsis = "…"

// PreviewLine flattens s to a single line and truncates it to at most
// maxBytes, appending an ellipsis when anything was cut. The ellipsis counts
// against the budget. Used for notification payloads with size limits.
func PreviewLine(s string, maxBytes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= len(previewEllipsis) {
		return TruncateUTF8(s, maxBytes)
	}
	return TruncateUTF8(s, maxBytes-len(previewEllipsis)) + previewEllipsis
}
