package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitJoinLines(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		lines []string
	}{
		{"empty", "", nil},
		{"single empty line", "\n", []string{""}},
		{"terminated", "a\nb\n", []string{"a", "b"}},
		{"blank lines kept", "a\n\n\nb\n", []string{"a", "", "", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.lines, SplitLines(tc.text))
			assert.Equal(t, tc.text, JoinLines(tc.lines))
			assert.Equal(t, len(tc.text), TextLen(tc.lines))
		})
	}
}

func TestSplitLinesUnterminated(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb"))
	assert.Equal(t, "a\nb\n", JoinLines(SplitLines("a\nb")))
}

func TestNormalizeCRLF(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"crlf throughout", "a\r\nb\r\n", "a\nb\n"},
		{"lone cr kept", "a\r\nb\rc\r\n", "a\nb\rc\n"},
		{"mixed endings kept", "a\r\nb\n", "a\r\nb\n"},
		{"cr inside lf text", "x\ry\nz\n", "x\ry\nz\n"},
		{"no newline", "a\r", "a\r"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeCRLF(tc.in))
		})
	}
}
