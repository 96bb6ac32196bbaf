package bundle

import (
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/textutil"
)

// Selector chooses between a diff and the full new content for one file,
// whichever serializes shorter.
type Selector struct {
	tieBreak config.TieBreak
}

// NewSelector returns a selector resolving equal sizes with tb.
func NewSelector(tb config.TieBreak) Selector {
	return Selector{tieBreak: tb}
}

// Select returns the entry for path, or false when hunks is empty and the
// file should be left out of the bundle.
func (s Selector) Select(path string, hunks []diff.Hunk, newLines []string) (Entry, bool) {
	if len(hunks) == 0 {
		return Entry{}, false
	}
	diffLen, fullLen := diff.FormatLen(hunks), textutil.TextLen(newLines)
	if diffLen > fullLen || (diffLen == fullLen && s.tieBreak != config.TieBreakDiff) {
		return FileEntry(path, newLines), true
	}
	return DiffEntry(path, hunks), true
}
