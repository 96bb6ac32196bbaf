package patcher

import (
	"slices"
	"strings"

	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
)

// Relocate repairs hunk headers whose line numbers or counts drifted, as
// happens with hand-written or model-written diffs. Counts are recomputed
// from each body. Each hunk's context and removed lines are searched in the
// baseline after the previous hunk, exact matches first, then matches that
// ignore whitespace differences; the candidate closest to the declared
// position wins. Whitespace-tolerant matches take the baseline's text so the
// result applies cleanly. A block that cannot be found is an apply conflict.
func Relocate(path string, baseline []string, hunks []diff.Hunk) ([]diff.Hunk, error) {
	out := make([]diff.Hunk, 0, len(hunks))
	from, delta := 0, 0
	for i, h := range hunks {
		h.Lines = slices.Clone(h.Lines)
		declared := max(h.OrigStart-1, 0)
		h.OrigCount, h.ModCount = h.BodyCounts()

		var at int
		if h.OrigCount == 0 {
			at = min(max(h.OrigStart, from), len(baseline))
		} else {
			block := h.Original()
			at = locate(baseline, block, from, declared)
			if at < 0 {
				got := ""
				if declared < len(baseline) {
					got = baseline[declared]
				}
				return nil, &errs.ApplyConflictError{Path: path, Hunk: i, Line: declared + 1, Want: block[0], Got: got, EOF: declared >= len(baseline)}
			}
			k := at
			for j := range h.Lines {
				if h.Lines[j].Op != diff.OpAdd {
					h.Lines[j].Text = baseline[k]
					k++
				}
			}
		}

		h.OrigStart = at
		if h.OrigCount > 0 {
			h.OrigStart++
		}
		h.ModStart = at + delta
		if h.ModCount > 0 {
			h.ModStart++
		}
		delta += h.ModCount - h.OrigCount
		from = at + h.OrigCount
		out = append(out, h)
	}
	return out, nil
}

// locate returns the baseline index where block starts, or -1.
func locate(source, block []string, from, near int) int {
	if at := nearest(source, block, from, near, func(a, b string) bool { return a == b }); at >= 0 {
		return at
	}
	return nearest(source, block, from, near, func(a, b string) bool {
		return normalizeLineForMatching(a) == normalizeLineForMatching(b)
	})
}

func nearest(source, block []string, from, near int, eq func(a, b string) bool) int {
	best := -1
	for i := from; i+len(block) <= len(source); i++ {
		match := true
		for j := range block {
			if !eq(source[i+j], block[j]) {
				match = false
				break
			}
		}
		if match && (best < 0 || abs(i-near) < abs(best-near)) {
			best = i
		}
	}
	return best
}

// normalizeLineForMatching trims the line and collapses internal whitespace
// runs to a single space.
func normalizeLineForMatching(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
