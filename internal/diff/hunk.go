package diff

import (
	"fmt"
	"strings"
)

// Op is the role of a hunk line.
type Op int

const (
	OpContext Op = iota // present in both versions
	OpAdd               // present in the modified version only
	OpRemove            // present in the original version only
)

// Prefix is the leading character a line of this kind carries in hunk text.
func (o Op) Prefix() byte {
	switch o {
	case OpAdd:
		return '+'
	case OpRemove:
		return '-'
	default:
		return ' '
	}
}

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "context"
	}
}

// Line is a single hunk line without its prefix.
type Line struct {
	Op   Op
	Text string
}

// Hunk is one changed region plus surrounding context. Line numbers are
// 1-based. When a side's count is zero its start names the line after which
// the hunk sits, 0 meaning the top of the file.
type Hunk struct {
	OrigStart int
	OrigCount int
	ModStart  int
	ModCount  int
	Lines     []Line
}

// Header renders the "@@ -a,b +c,d @@" line.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStart, h.OrigCount, h.ModStart, h.ModCount)
}

// Anchor is the number of original lines preceding the hunk.
func (h Hunk) Anchor() int {
	if h.OrigCount == 0 {
		return h.OrigStart
	}
	return h.OrigStart - 1
}

// ModAnchor is the number of modified lines preceding the hunk.
func (h Hunk) ModAnchor() int {
	if h.ModCount == 0 {
		return h.ModStart
	}
	return h.ModStart - 1
}

// BodyCounts counts the lines each side of the hunk body actually has.
func (h Hunk) BodyCounts() (orig, mod int) {
	for _, l := range h.Lines {
		switch l.Op {
		case OpContext:
			orig++
			mod++
		case OpRemove:
			orig++
		case OpAdd:
			mod++
		}
	}
	return orig, mod
}

// Original returns the context and removed lines, the text the hunk expects
// to find in the baseline.
func (h Hunk) Original() []string {
	out := make([]string, 0, h.OrigCount)
	for _, l := range h.Lines {
		if l.Op != OpAdd {
			out = append(out, l.Text)
		}
	}
	return out
}

// String renders the header and prefixed body, one "\n"-terminated line each.
func (h Hunk) String() string {
	var b strings.Builder
	h.writeTo(&b)
	return b.String()
}

func (h Hunk) writeTo(b *strings.Builder) {
	b.WriteString(h.Header())
	b.WriteByte('\n')
	for _, l := range h.Lines {
		b.WriteByte(l.Op.Prefix())
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
}

// Format renders a whole hunk sequence as diff text.
func Format(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		h.writeTo(&b)
	}
	return b.String()
}

// FormatLen is len(Format(hunks)) without building the text.
func FormatLen(hunks []Hunk) int {
	n := 0
	for _, h := range hunks {
		n += len(h.Header()) + 1
		for _, l := range h.Lines {
			n += len(l.Text) + 2
		}
	}
	return n
}

// Validate checks the invariants a hunk sequence must satisfy before it can
// be applied: header counts match the body, hunks ascend by original start
// without overlapping, and each modified start agrees with the line delta
// accumulated by the hunks before it.
func Validate(hunks []Hunk) error {
	delta := 0
	prevStart, prevEnd := -1, 0
	for i, h := range hunks {
		orig, mod := h.BodyCounts()
		if orig != h.OrigCount || mod != h.ModCount {
			return fmt.Errorf("hunk %d: header %s declares -%d +%d lines but body has -%d +%d",
				i+1, h.Header(), h.OrigCount, h.ModCount, orig, mod)
		}
		if h.OrigCount == 0 && h.ModCount == 0 {
			return fmt.Errorf("hunk %d: empty hunk", i+1)
		}
		if h.OrigStart < 0 || h.ModStart < 0 || (h.OrigCount > 0 && h.OrigStart == 0) || (h.ModCount > 0 && h.ModStart == 0) {
			return fmt.Errorf("hunk %d: invalid start in %s", i+1, h.Header())
		}
		anchor := h.Anchor()
		if i > 0 && (h.OrigStart <= prevStart || anchor < prevEnd) {
			return fmt.Errorf("hunk %d: %s overlaps or precedes the previous hunk", i+1, h.Header())
		}
		if want := anchor + delta; h.ModAnchor() != want {
			return fmt.Errorf("hunk %d: %s modified start should follow %d lines, not %d", i+1, h.Header(), want, h.ModAnchor())
		}
		delta += h.ModCount - h.OrigCount
		prevStart, prevEnd = h.OrigStart, anchor+h.OrigCount
	}
	return nil
}

// Invert swaps the two sides of every hunk, turning old→new into new→old.
func Invert(hunks []Hunk) []Hunk {
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		lines := make([]Line, len(h.Lines))
		for j, l := range h.Lines {
			switch l.Op {
			case OpAdd:
				l.Op = OpRemove
			case OpRemove:
				l.Op = OpAdd
			}
			lines[j] = l
		}
		out[i] = Hunk{
			OrigStart: h.ModStart,
			OrigCount: h.ModCount,
			ModStart:  h.OrigStart,
			ModCount:  h.OrigCount,
			Lines:     normalizeOrder(lines),
		}
	}
	return out
}

// normalizeOrder puts removals ahead of additions inside every change run,
// the order the encoder emits.
func normalizeOrder(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	var adds, removes []Line
	flush := func() {
		out = append(out, removes...)
		out = append(out, adds...)
		adds, removes = adds[:0], removes[:0]
	}
	for _, l := range lines {
		switch l.Op {
		case OpAdd:
			adds = append(adds, l)
		case OpRemove:
			removes = append(removes, l)
		default:
			flush()
			out = append(out, l)
		}
	}
	flush()
	return out
}

// Stat counts added and removed lines.
func Stat(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Op {
			case OpAdd:
				added++
			case OpRemove:
				removed++
			}
		}
	}
	return added, removed
}
