package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/store"
	"github.com/sokinpui/fmod/internal/txn"
)

type fixture struct {
	dir      string
	store    *store.Store
	coord    *txn.Coordinator
	producer *bundle.Producer
	history  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s := store.New()
	m, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{
		dir:      dir,
		store:    s,
		coord:    txn.New(s),
		producer: bundle.NewProducer(config.DefaultEnvironment()),
		history:  m,
	}
}

func (f *fixture) commit(t *testing.T, files map[string][]string) txn.Result {
	t.Helper()
	snap := f.store.Snapshot()
	b := bundle.Bundle{BaseRevision: map[string]int64{}}
	for p, lines := range files {
		b.Entries = append(b.Entries, bundle.FileEntry(p, lines))
		b.BaseRevision[p] = snap.Revision(p)
	}
	res, err := f.coord.Apply(context.Background(), b)
	require.NoError(t, err)
	_, err = f.history.Record(res)
	require.NoError(t, err)
	return res
}

func (f *fixture) undo(t *testing.T) error {
	t.Helper()
	plan, err := f.history.PlanUndo(context.Background(), f.store.Snapshot(), f.producer)
	if err != nil {
		return err
	}
	if _, err := f.coord.Apply(context.Background(), plan.Bundle); err != nil {
		return err
	}
	return f.history.CompleteUndo(plan.Transaction.ID)
}

func (f *fixture) redo(t *testing.T) error {
	t.Helper()
	plan, err := f.history.PlanRedo(context.Background(), f.store.Snapshot(), f.producer)
	if err != nil {
		return err
	}
	if _, err := f.coord.Apply(context.Background(), plan.Bundle); err != nil {
		return err
	}
	return f.history.CompleteRedo(plan.Transaction.ID)
}

func (f *fixture) lines(path string) []string {
	return f.store.Snapshot().Lines(path)
}

func TestUndoRedo(t *testing.T) {
	f := newFixture(t)
	f.commit(t, map[string][]string{"a.txt": {"one"}})
	f.commit(t, map[string][]string{"a.txt": {"one", "two"}, "b.txt": {"bee"}})

	require.NoError(t, f.undo(t))
	assert.Equal(t, []string{"one"}, f.lines("a.txt"))
	assert.Empty(t, f.lines("b.txt"), "undoing a creation leaves an empty file")
	assert.Equal(t, int64(3), f.store.Revision("a.txt"))

	require.NoError(t, f.undo(t))
	assert.Empty(t, f.lines("a.txt"))
	assert.ErrorIs(t, f.undo(t), ErrNothingToUndo)

	require.NoError(t, f.redo(t))
	require.NoError(t, f.redo(t))
	assert.Equal(t, []string{"one", "two"}, f.lines("a.txt"))
	assert.Equal(t, []string{"bee"}, f.lines("b.txt"))
	assert.ErrorIs(t, f.redo(t), ErrNothingToRedo)

	require.NoError(t, f.undo(t))
	assert.Equal(t, []string{"one"}, f.lines("a.txt"))
}

func TestUndo_FileEditedSinceConflicts(t *testing.T) {
	f := newFixture(t)
	f.commit(t, map[string][]string{"a.txt": {"v1"}})
	f.commit(t, map[string][]string{"a.txt": {"v2"}})

	_, err := f.store.Commit(context.Background(), map[string]int64{"a.txt": 2}, []store.Update{{Path: "a.txt", Lines: []string{"edited elsewhere"}}})
	require.NoError(t, err)

	err = f.undo(t)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, []string{"edited elsewhere"}, f.lines("a.txt"))
	_, current := f.history.History()
	assert.Equal(t, 1, current, "a failed undo must not move the history")
}

func TestRecord_DropsRedoTail(t *testing.T) {
	f := newFixture(t)
	f.commit(t, map[string][]string{"a.txt": {"1"}})
	f.commit(t, map[string][]string{"a.txt": {"2"}})
	require.NoError(t, f.undo(t))

	f.commit(t, map[string][]string{"a.txt": {"3"}})
	history, current := f.history.History()
	assert.Len(t, history, 2)
	assert.Equal(t, 1, current)
	assert.ErrorIs(t, f.redo(t), ErrNothingToRedo)
}

func TestRecord_EmptyResult(t *testing.T) {
	f := newFixture(t)
	tx, err := f.history.Record(txn.Result{})
	require.NoError(t, err)
	assert.Empty(t, tx.ID)
	history, _ := f.history.History()
	assert.Empty(t, history)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	f := newFixture(t)
	f.commit(t, map[string][]string{"src/a.txt": {"1"}})
	f.commit(t, map[string][]string{"src/a.txt": {"2"}})
	require.NoError(t, f.undo(t))

	reopened, err := Open(f.dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	history, current := reopened.History()
	want, wantCurrent := f.history.History()
	assert.Equal(t, want, history)
	assert.Equal(t, wantCurrent, current)
	assert.Equal(t, 0, current)
	require.Len(t, history, 2)
	assert.Equal(t, ActionCreate, history[0].Operations[0].Action)
	assert.Equal(t, ActionModify, history[1].Operations[0].Action)
	assert.Equal(t, "src/a.txt", history[1].Operations[0].Path)
	assert.Equal(t, int64(2), history[1].Operations[0].Revision)

	f.history = reopened
	require.NoError(t, f.redo(t))
	assert.Equal(t, []string{"2"}, f.lines("src/a.txt"))
}

func TestJournal_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, JournalFileName), []byte("not a number\n\nx"), 0o644))
	m, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	history, current := m.History()
	assert.Empty(t, history)
	assert.Equal(t, -1, current)
}

func TestBlobs(t *testing.T) {
	b := blobStore{dir: t.TempDir()}
	for _, lines := range [][]string{nil, {""}, {"a", "b"}} {
		hash, err := b.save(lines)
		require.NoError(t, err)
		got, err := b.read(hash)
		require.NoError(t, err)
		assert.Equal(t, lines, got)
	}
	_, err := b.read("../../etc")
	assert.Error(t, err)
}
