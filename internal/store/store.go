// Package store holds the last-known content and revision of every tracked
// file. Readers work on immutable snapshots; writers go through Commit, the
// only critical section, which checks revisions and publishes a new snapshot
// in one step.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/logging"
)

// Record is the committed state of one file. Lines are shared between
// snapshots and must not be modified.
type Record struct {
	Path     string
	Lines    []string
	Revision int64
}

// Update is new content for one path.
type Update struct {
	Path  string
	Lines []string
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	records map[string]Record
}

// Get returns the record for path.
func (s *Snapshot) Get(path string) (Record, bool) {
	r, ok := s.records[path]
	return r, ok
}

// Revision is the current revision of path; 0 when the path is unknown.
func (s *Snapshot) Revision(path string) int64 {
	return s.records[path].Revision
}

// Lines is the current content of path; nil when the path is unknown.
func (s *Snapshot) Lines(path string) []string {
	return s.records[path].Lines
}

// Paths lists tracked paths in lexical order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len is the number of tracked paths.
func (s *Snapshot) Len() int { return len(s.records) }

// Persister makes commits durable. Save receives only the records a commit
// changed and must store them atomically.
type Persister interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex // serializes Commit
	current   atomic.Pointer[Snapshot]
	persister Persister
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister makes commits durable.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("store")
	s.current.Store(&Snapshot{records: map[string]Record{}})
	return s
}

// Open returns a store seeded from its persister, if any.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := New(opts...)
	if s.persister == nil {
		return s, nil
	}
	records, err := s.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	snap := &Snapshot{records: make(map[string]Record, len(records))}
	for _, r := range records {
		snap.records[r.Path] = r
	}
	s.current.Store(snap)
	s.logger.Debug("Store loaded", zap.Int("files", len(records)))
	return s, nil
}

// Snapshot returns the current view. It never changes after being returned.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Get returns the current record for path.
func (s *Store) Get(path string) (Record, bool) {
	return s.Snapshot().Get(path)
}

// Revision returns the current revision for path.
func (s *Store) Revision(path string) int64 {
	return s.Snapshot().Revision(path)
}

// Commit installs updates if, for every updated path, the current revision
// equals expected[path] (a missing key means 0). Each updated path's
// revision goes up by one. On a mismatch the store is untouched and an
// *errs.ConflictError lists every stale path. The returned records are in
// update order.
//
// The context is only consulted before the critical section; once the
// revision check passes the commit runs to completion.
func (s *Store) Commit(ctx context.Context, expected map[string]int64, updates []Update) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if _, dup := seen[u.Path]; dup {
			return nil, fmt.Errorf("commit: duplicate update for %s", u.Path)
		}
		seen[u.Path] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	var stale []errs.StaleRevision
	for _, u := range updates {
		if have, want := cur.Revision(u.Path), expected[u.Path]; have != want {
			stale = append(stale, errs.StaleRevision{Path: u.Path, Base: want, Current: have})
		}
	}
	if len(stale) > 0 {
		return nil, errs.NewConflict(stale)
	}

	next := &Snapshot{records: make(map[string]Record, len(cur.records)+len(updates))}
	for p, r := range cur.records {
		next.records[p] = r
	}
	changed := make([]Record, len(updates))
	for i, u := range updates {
		r := Record{Path: u.Path, Lines: slices.Clip(slices.Clone(u.Lines)), Revision: cur.Revision(u.Path) + 1}
		next.records[u.Path] = r
		changed[i] = r
	}

	if s.persister != nil {
		if err := s.persister.Save(context.WithoutCancel(ctx), changed); err != nil {
			return nil, fmt.Errorf("persist commit: %w", err)
		}
	}
	s.current.Store(next)

	s.logger.Debug("Commit published", zap.Int("files", len(changed)))
	return changed, nil
}
