package fs

import (
	"slices"

	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/store"
)

// Scan compares the workspace with snap and returns a change for every file
// whose content on disk differs from its committed record. With no paths
// every tracked path is checked; otherwise only paths, which may include
// files the store has never seen. Tracked files missing from disk are
// skipped since bundles cannot express deletion.
func (w *Workspace) Scan(snap *store.Snapshot, paths ...string) ([]bundle.Change, error) {
	if len(paths) == 0 {
		paths = snap.Paths()
	}
	var changes []bundle.Change
	for _, p := range paths {
		lines, ok, err := w.ReadLines(p)
		if err != nil {
			return nil, err
		}
		rec, tracked := snap.Get(p)
		if !ok {
			if tracked {
				w.logger.Warn("Tracked file is missing on disk", zap.String("path", p))
			}
			continue
		}
		if tracked && slices.Equal(rec.Lines, lines) {
			continue
		}
		changes = append(changes, bundle.Change{Path: p, Old: rec.Lines, New: lines, BaseRevision: rec.Revision})
	}
	return changes, nil
}
