// Package textutil converts between file text and the line sequences the
// diff protocol operates on.
package textutil

import "strings"

// SplitLines splits text into lines. A single trailing "\n" terminates the
// last line rather than starting a new one; the empty string has no lines.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// JoinLines is the inverse of SplitLines: every line is terminated by "\n".
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(TextLen(lines))
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// TextLen is len(JoinLines(lines)) without building the string.
func TextLen(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	return n
}

// NormalizeCRLF converts text whose every line ends in CRLF to LF. Mixed
// endings are returned unchanged, and a "\r" inside a line is never touched.
func NormalizeCRLF(s string) string {
	n := strings.Count(s, "\n")
	if n == 0 || strings.Count(s, "\r\n") != n {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}
