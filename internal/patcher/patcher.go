// Package patcher reconstructs file content from a baseline and a hunk
// sequence. Application is all-or-nothing: on any mismatch no output is
// produced.
package patcher

import (
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
)

// Apply applies hunks to baseline.
func Apply(baseline []string, hunks []diff.Hunk) ([]string, error) {
	return ApplyFile("", baseline, hunks)
}

// ApplyFile applies hunks to baseline; path only labels errors. Every
// context and removed line must match the baseline byte for byte, otherwise
// an *errs.ApplyConflictError is returned.
func ApplyFile(path string, baseline []string, hunks []diff.Hunk) ([]string, error) {
	if err := diff.Validate(hunks); err != nil {
		return nil, errs.Parsef(path, 0, "%v", err)
	}

	added, removed := diff.Stat(hunks)
	out := make([]string, 0, max(len(baseline)+added-removed, 0))
	cursor, offset := 0, 0
	for i, h := range hunks {
		anchor := h.Anchor()
		if anchor > len(baseline) {
			return nil, &errs.ApplyConflictError{Path: path, Hunk: i, Line: anchor + 1, Want: firstOriginal(h), EOF: true}
		}
		if h.ModAnchor() != anchor+offset {
			return nil, errs.Parsef(path, 0, "hunk %d: %s does not agree with running offset %d", i+1, h.Header(), offset)
		}
		out = append(out, baseline[cursor:anchor]...)

		pos := anchor
		for _, l := range h.Lines {
			if l.Op == diff.OpAdd {
				out = append(out, l.Text)
				continue
			}
			if pos >= len(baseline) {
				return nil, &errs.ApplyConflictError{Path: path, Hunk: i, Line: pos + 1, Want: l.Text, EOF: true}
			}
			if baseline[pos] != l.Text {
				return nil, &errs.ApplyConflictError{Path: path, Hunk: i, Line: pos + 1, Want: l.Text, Got: baseline[pos]}
			}
			if l.Op == diff.OpContext {
				out = append(out, l.Text)
			}
			pos++
		}
		cursor = pos
		offset += h.ModCount - h.OrigCount
	}
	return append(out, baseline[cursor:]...), nil
}

func firstOriginal(h diff.Hunk) string {
	for _, l := range h.Lines {
		if l.Op != diff.OpAdd {
			return l.Text
		}
	}
	return ""
}
