// Package model holds the values fmod hands to its front ends.
package model

// FileStat is one committed path.
type FileStat struct {
	Path    string
	Kind    string // "diff" or "file"
	Added   int
	Removed int
}

// Summary holds the results of an operation for display.
type Summary struct {
	Message     string
	Transaction string // journal id, empty when nothing was recorded
	Created     []FileStat
	Modified    []FileStat
	Failed      []string // committed but not published
	Dirs        []string // directories created while publishing
}

// Empty reports whether the operation touched no files.
func (s Summary) Empty() bool {
	return len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Failed) == 0
}

// Totals sums added and removed lines over every committed path.
func (s Summary) Totals() (added, removed int) {
	for _, group := range [][]FileStat{s.Created, s.Modified} {
		for _, f := range group {
			added += f.Added
			removed += f.Removed
		}
	}
	return added, removed
}

// FileStatus describes a tracked path.
type FileStatus struct {
	Path     string
	Revision int64
	Modified bool // the workspace copy differs from the store
	Missing  bool // tracked but absent from the workspace
}

// HistoryEntry is one journaled transaction.
type HistoryEntry struct {
	ID      string
	Time    string // RFC 3339, UTC
	Paths   []string
	Applied bool // false for entries on the redo side
}

// Status is the state of a workspace.
type Status struct {
	Files   []FileStatus
	History []HistoryEntry
}
