// Package txn applies bundles to a file store as all-or-nothing
// transactions guarded by base revisions.
package txn

import (
	"context"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/patcher"
	"github.com/sokinpui/fmod/internal/store"
)

// FileResult describes one committed path.
type FileResult struct {
	Path     string
	Kind     bundle.Kind
	Before   []string
	After    []string
	Revision int64 // revision after the commit
	Created  bool  // the path did not exist before
	Added    int
	Removed  int
}

// Result lists committed paths in entry order.
type Result struct {
	Files []FileResult
}

// Paths lists committed paths.
func (r Result) Paths() []string {
	out := make([]string, len(r.Files))
	for i, f := range r.Files {
		out[i] = f.Path
	}
	return out
}

// Coordinator is safe for concurrent use; transactions on the same store are
// serialized only at commit.
type Coordinator struct {
	store    *store.Store
	logger   *zap.Logger
	limit    int
	relocate bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithParallelism bounds per-entry workers. n <= 0 means GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(c *Coordinator) { c.limit = n }
}

// WithRelocation re-anchors diff hunks against the current content before
// applying them, for bundles decoded with bundle.Lenient.
func WithRelocation() Option {
	return func(c *Coordinator) { c.relocate = true }
}

// New returns a coordinator for s.
func New(s *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{store: s}
	for _, opt := range opts {
		opt(c)
	}
	if c.limit <= 0 {
		c.limit = runtime.GOMAXPROCS(0)
	}
	c.logger = logging.OrNop(c.logger).Named("txn")
	return c
}

// Apply commits every entry of b or none of them. It fails with
// errs.ErrParse for a malformed bundle, errs.ErrConflict when any base
// revision is stale and errs.ErrApplyConflict when a diff does not match the
// current content. On error the store is unchanged.
func (c *Coordinator) Apply(ctx context.Context, b bundle.Bundle) (Result, error) {
	start := time.Now()
	if err := c.validate(b); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	snap := c.store.Snapshot()
	if err := checkRevisions(snap, b); err != nil {
		c.logger.Debug("Bundle rejected", zap.Error(err))
		return Result{}, err
	}

	files, err := c.compute(ctx, snap, b)
	if err != nil {
		return Result{}, err
	}

	expected := make(map[string]int64, len(files))
	updates := make([]store.Update, len(files))
	for i, f := range files {
		expected[f.Path] = b.Base(f.Path)
		updates[i] = store.Update{Path: f.Path, Lines: f.After}
	}
	records, err := c.store.Commit(ctx, expected, updates)
	if err != nil {
		return Result{}, err
	}
	for i, r := range records {
		files[i].Revision = r.Revision
		files[i].After = r.Lines
	}

	c.logger.Info("Transaction committed",
		zap.Int("files", len(files)),
		zap.String("entries", b.Summary()),
		zap.Duration("took", time.Since(start)))
	return Result{Files: files}, nil
}

func (c *Coordinator) validate(b bundle.Bundle) error {
	if !c.relocate {
		return b.Validate()
	}
	// Hunk positions are untrusted until relocated, so only the bundle shape
	// is checked here; ApplyFile validates the relocated hunks.
	seen := make(map[string]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if e.Path == "" {
			return errs.Parsef("", 0, "entry without a path")
		}
		if _, dup := seen[e.Path]; dup {
			return errs.Parsef(e.Path, 0, "duplicate entry for path")
		}
		seen[e.Path] = struct{}{}
	}
	return nil
}

func checkRevisions(snap *store.Snapshot, b bundle.Bundle) error {
	var stale []errs.StaleRevision
	for _, e := range b.Entries {
		if cur, base := snap.Revision(e.Path), b.Base(e.Path); cur != base {
			stale = append(stale, errs.StaleRevision{Path: e.Path, Base: base, Current: cur})
		}
	}
	if len(stale) > 0 {
		return errs.NewConflict(stale)
	}
	return nil
}

// compute derives new content for every entry from snap without touching
// the store. When several entries fail, the earliest one's error wins.
func (c *Coordinator) compute(ctx context.Context, snap *store.Snapshot, b bundle.Bundle) ([]FileResult, error) {
	files := make([]FileResult, len(b.Entries))
	failures := make([]error, len(b.Entries))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, e := range b.Entries {
		g.Go(func() error {
			files[i], failures[i] = c.computeEntry(snap, e)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range failures {
		if err != nil {
			return nil, err
		}
	}
	return files, ctx.Err()
}

func (c *Coordinator) computeEntry(snap *store.Snapshot, e bundle.Entry) (FileResult, error) {
	rec, exists := snap.Get(e.Path)
	res := FileResult{Path: e.Path, Kind: e.Kind, Before: rec.Lines, Created: !exists}

	if e.Kind == bundle.KindFullFile {
		res.After = slices.Clone(e.Lines)
		res.Added, res.Removed = len(e.Lines), len(rec.Lines)
		return res, nil
	}

	hunks := e.Hunks
	if c.relocate {
		var err error
		if hunks, err = patcher.Relocate(e.Path, rec.Lines, hunks); err != nil {
			return FileResult{}, err
		}
	}
	after, err := patcher.ApplyFile(e.Path, rec.Lines, hunks)
	if err != nil {
		return FileResult{}, err
	}
	res.After = after
	res.Added, res.Removed = diff.Stat(hunks)
	return res, nil
}
