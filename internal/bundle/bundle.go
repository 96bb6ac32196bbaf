// Package bundle defines the set of per-file modifications exchanged between
// a producer and a consumer, its tagged text envelope, and the producer that
// builds one from edited files.
package bundle

import (
	"fmt"

	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
)

// Kind tells how an entry carries its new content.
type Kind int

const (
	KindDiff Kind = iota
	KindFullFile
)

// String is also the envelope element name.
func (k Kind) String() string {
	if k == KindFullFile {
		return "file"
	}
	return "diff"
}

// Entry is the modification of one path: either hunks against the consumer's
// current content or the complete new content.
type Entry struct {
	Path  string
	Kind  Kind
	Hunks []diff.Hunk // KindDiff
	Lines []string    // KindFullFile
}

// DiffEntry builds a diff entry.
func DiffEntry(path string, hunks []diff.Hunk) Entry {
	return Entry{Path: path, Kind: KindDiff, Hunks: hunks}
}

// FileEntry builds a full-file entry.
func FileEntry(path string, lines []string) Entry {
	return Entry{Path: path, Kind: KindFullFile, Lines: lines}
}

// Stat counts added and removed lines. A full file counts every line as
// added.
func (e Entry) Stat() (added, removed int) {
	if e.Kind == KindFullFile {
		return len(e.Lines), 0
	}
	return diff.Stat(e.Hunks)
}

// Bundle is a set of entries, at most one per path, plus the revision each
// path is expected to be at. A path missing from BaseRevision is expected
// not to exist yet.
type Bundle struct {
	Entries      []Entry
	BaseRevision map[string]int64
}

// Base is the expected revision of path.
func (b Bundle) Base(path string) int64 {
	return b.BaseRevision[path]
}

// Paths lists entry paths in entry order.
func (b Bundle) Paths() []string {
	out := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Path
	}
	return out
}

// Len is the number of entries.
func (b Bundle) Len() int { return len(b.Entries) }

// Validate checks bundle-level invariants: one entry per path, known kinds,
// well-formed hunk sequences and non-negative base revisions.
func (b Bundle) Validate() error {
	seen := make(map[string]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if e.Path == "" {
			return errs.Parsef("", 0, "entry without a path")
		}
		if _, dup := seen[e.Path]; dup {
			return errs.Parsef(e.Path, 0, "duplicate entry for path")
		}
		seen[e.Path] = struct{}{}

		switch e.Kind {
		case KindDiff:
			if len(e.Hunks) == 0 {
				return errs.Parsef(e.Path, 0, "diff entry has no hunks")
			}
			if err := diff.Validate(e.Hunks); err != nil {
				return errs.Parsef(e.Path, 0, "%v", err)
			}
		case KindFullFile:
		default:
			return errs.Parsef(e.Path, 0, "unknown entry kind %d", int(e.Kind))
		}
	}
	for p, rev := range b.BaseRevision {
		if rev < 0 {
			return errs.Parsef(p, 0, "negative base revision %d", rev)
		}
	}
	return nil
}

// Summary is a one-line description used in logs.
func (b Bundle) Summary() string {
	var diffs, files int
	for _, e := range b.Entries {
		if e.Kind == KindFullFile {
			files++
		} else {
			diffs++
		}
	}
	return fmt.Sprintf("%d diff, %d file", diffs, files)
}
