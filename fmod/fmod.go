// Package fmod applies file-modification bundles to a workspace. An App
// wires the file store, the transaction coordinator, the undo journal and
// the publishers that mirror committed content to disk or to Neovim.
package fmod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/fs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/parser"
	"github.com/sokinpui/fmod/internal/patcher"
	"github.com/sokinpui/fmod/internal/state"
	"github.com/sokinpui/fmod/internal/store"
	"github.com/sokinpui/fmod/internal/txn"
	"github.com/sokinpui/fmod/model"
)

type (
	Bundle = bundle.Bundle
	Record = store.Record
	Config = config.Config
)

var (
	ErrParse         = errs.ErrParse
	ErrApplyConflict = errs.ErrApplyConflict
	ErrConflict      = errs.ErrConflict
)

// Publisher mirrors committed records somewhere outside the store. A
// publisher that fails for some paths returns an *errs.PublishError naming
// them.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// ProgressUpdate is a callback function to report progress.
type ProgressUpdate func(done, total int)

// Options configures New.
type Options struct {
	// Root is the workspace directory; empty means the enclosing git
	// repository or the current directory.
	Root string
	// Config replaces the config file when set.
	Config *Config
	// ConfigFile defaults to <root>/.fmod/config.yaml.
	ConfigFile string
	Logger     *zap.Logger
	// Extensions limits markdown file blocks to these extensions.
	Extensions []string
	// FixHeaders relocates drifted diff hunks instead of rejecting them.
	FixHeaders bool
	// Publishers replace the default of writing files into Root. Without
	// the disk publisher, edits made on disk are not picked up
	// automatically.
	Publishers []Publisher
	Progress   ProgressUpdate
}

// App orchestrates the entire application logic.
type App struct {
	cfg        config.Config
	env        config.Environment
	logger     *zap.Logger
	ownsLogger bool
	ws         *fs.Workspace
	db         *store.SQLite
	store      *store.Store
	coord      *txn.Coordinator
	producer   *bundle.Producer
	history    *state.Manager
	markdown   *parser.Markdown
	extensions []string
	publishers []Publisher
	disk       bool
	progress   ProgressUpdate
}

// New opens the workspace, its store and its journal.
func New(ctx context.Context, opts Options) (*App, error) {
	root := opts.Root
	if root == "" {
		var err error
		if root, err = fs.FindRoot(); err != nil {
			return nil, err
		}
	}

	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		path := opts.ConfigFile
		if path == "" {
			path = filepath.Join(root, config.DefaultStateDir, config.FileName)
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:        cfg,
		env:        cfg.Environment(),
		logger:     opts.Logger,
		extensions: opts.Extensions,
		progress:   opts.Progress,
	}
	if a.logger == nil {
		l, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		a.logger, a.ownsLogger = l, true
	}

	ws, err := fs.NewWorkspace(root, a.logger)
	if err != nil {
		return nil, err
	}
	a.ws = ws

	storeOpts := []store.Option{store.WithLogger(a.logger)}
	if path := cfg.DatabasePath(ws.Root()); path != "" {
		if a.db, err = store.OpenSQLite(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		storeOpts = append(storeOpts, store.WithPersister(a.db))
	}
	if a.store, err = store.Open(ctx, storeOpts...); err != nil {
		a.Close()
		return nil, err
	}

	if a.history, err = state.Open(cfg.StatePath(ws.Root()), a.logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}

	txnOpts := []txn.Option{txn.WithLogger(a.logger), txn.WithParallelism(cfg.Parallelism)}
	parserOpts := []parser.Option{parser.WithExtensions(opts.Extensions...), parser.WithLogger(a.logger)}
	if opts.FixHeaders {
		txnOpts = append(txnOpts, txn.WithRelocation())
		parserOpts = append(parserOpts, parser.WithLenientHeaders())
	}
	a.coord = txn.New(a.store, txnOpts...)
	a.markdown = parser.New(a.env, parserOpts...)
	// Undo and redo plans re-encode the same content pairs.
	engine := diff.NewEngine(diff.WithContext(a.env.ContextLines()), diff.WithCache(0))
	a.producer = bundle.NewProducer(a.env,
		bundle.WithEngine(engine),
		bundle.WithParallelism(cfg.Parallelism),
		bundle.WithLogger(a.logger))

	a.publishers = opts.Publishers
	if len(a.publishers) == 0 {
		a.publishers = []Publisher{ws}
	}
	a.disk = slices.ContainsFunc(a.publishers, func(p Publisher) bool { return p == Publisher(ws) })
	return a, nil
}

// Close releases the store database.
func (a *App) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
	}
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return err
}

// Root is the absolute workspace directory.
func (a *App) Root() string { return a.ws.Root() }

// Parse builds a bundle from an envelope or markdown reply without
// changing anything.
func (a *App) Parse(content string) (Bundle, error) {
	return a.markdown.Parse(content, a.store.Snapshot())
}

// ApplyText parses content and applies it. Files it names that were edited
// on disk, or never tracked, are tracked first so diffs apply to what is
// actually there.
func (a *App) ApplyText(ctx context.Context, content string) (model.Summary, error) {
	if strings.TrimSpace(content) == "" {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}
	b, err := a.Parse(content)
	if err != nil {
		return model.Summary{}, err
	}
	if b.Len() == 0 {
		return model.Summary{Message: "No valid changes were generated. Nothing to do."}, nil
	}
	synced, err := a.sync(ctx, b.Paths())
	if err != nil {
		return model.Summary{}, err
	}
	if synced > 0 {
		if b, err = a.Parse(content); err != nil {
			return model.Summary{}, err
		}
	}
	return a.Apply(ctx, b)
}

// Apply commits b, journals it for undo and publishes the new content.
func (a *App) Apply(ctx context.Context, b Bundle) (model.Summary, error) {
	res, err := a.coord.Apply(ctx, b)
	if err != nil {
		return model.Summary{}, err
	}
	summary := summarize(res, fmt.Sprintf("Applied %s.", plural(len(res.Files), "file")))
	tx, err := a.history.Record(res)
	if err != nil {
		a.logger.Warn("Transaction committed but not journaled, it cannot be undone", zap.Error(err))
	}
	summary.Transaction = tx.ID
	if err := a.publish(ctx, res, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Commit applies b to the store only. It acknowledges content that is
// already in place, such as a bundle produced by Diff.
func (a *App) Commit(ctx context.Context, b Bundle) (model.Summary, error) {
	res, err := a.coord.Apply(ctx, b)
	if err != nil {
		return model.Summary{}, err
	}
	return summarize(res, fmt.Sprintf("Committed %s.", plural(len(res.Files), "file"))), nil
}

// Track records the workspace content of paths in the store. With no paths
// every tracked file is refreshed. Tracking is not journaled.
func (a *App) Track(ctx context.Context, paths ...string) (model.Summary, error) {
	rels, err := a.rels(paths)
	if err != nil {
		return model.Summary{}, err
	}
	b, err := a.scanBundle(rels)
	if err != nil {
		return model.Summary{}, err
	}
	if b.Len() == 0 {
		return model.Summary{Message: "Everything is up to date."}, nil
	}
	return a.Commit(ctx, b)
}

// sync tracks the disk content of paths that differ from the store and
// returns how many were updated. When nothing publishes to disk the store
// may be ahead of it, so only untracked paths are read.
func (a *App) sync(ctx context.Context, rels []string) (int, error) {
	if !a.disk {
		snap := a.store.Snapshot()
		rels = slices.DeleteFunc(slices.Clone(rels), func(p string) bool {
			_, tracked := snap.Get(p)
			return tracked
		})
		if len(rels) == 0 {
			return 0, nil
		}
	}
	b, err := a.scanBundle(rels)
	if err != nil || b.Len() == 0 {
		return 0, err
	}
	if _, err := a.coord.Apply(ctx, b); err != nil {
		return 0, fmt.Errorf("track workspace edits: %w", err)
	}
	a.logger.Info("Tracked workspace edits", zap.Strings("paths", b.Paths()))
	return b.Len(), nil
}

func (a *App) scanBundle(rels []string) (Bundle, error) {
	if len(rels) == 0 && a.store.Snapshot().Len() == 0 {
		return Bundle{}, nil
	}
	changes, err := a.ws.Scan(a.store.Snapshot(), rels...)
	if err != nil {
		return Bundle{}, err
	}
	b := Bundle{BaseRevision: make(map[string]int64, len(changes))}
	for _, c := range changes {
		b.Entries = append(b.Entries, bundle.FileEntry(c.Path, c.New))
		b.BaseRevision[c.Path] = c.BaseRevision
	}
	return b, nil
}

// Diff builds the bundle that brings the store up to the workspace content
// of paths, or of every tracked file when paths is empty.
func (a *App) Diff(ctx context.Context, paths ...string) (Bundle, error) {
	rels, err := a.rels(paths)
	if err != nil {
		return Bundle{}, err
	}
	if len(rels) == 0 && a.store.Snapshot().Len() == 0 {
		return Bundle{}, nil
	}
	changes, err := a.ws.Scan(a.store.Snapshot(), rels...)
	if err != nil {
		return Bundle{}, err
	}
	return a.producer.Build(ctx, changes)
}

// Envelope serializes b with the configured tag and work directory.
func (a *App) Envelope(b Bundle) string {
	return bundle.Serialize(a.env, b)
}

// Fix parses content leniently, re-anchors every diff hunk against the
// current content and returns the corrected envelope. Files it names are
// tracked first, as with ApplyText.
func (a *App) Fix(ctx context.Context, content string) (string, error) {
	lenient := parser.New(a.env, parser.WithExtensions(a.extensions...), parser.WithLenientHeaders(), parser.WithLogger(a.logger))
	b, err := lenient.Parse(content, a.store.Snapshot())
	if err != nil {
		return "", err
	}
	synced, err := a.sync(ctx, b.Paths())
	if err != nil {
		return "", err
	}
	if synced > 0 {
		if b, err = lenient.Parse(content, a.store.Snapshot()); err != nil {
			return "", err
		}
	}
	snap := a.store.Snapshot()
	for i, e := range b.Entries {
		if e.Kind != bundle.KindDiff {
			continue
		}
		hunks, err := patcher.Relocate(e.Path, snap.Lines(e.Path), e.Hunks)
		if err != nil {
			return "", err
		}
		b.Entries[i].Hunks = hunks
	}
	return a.Envelope(b), nil
}

// Undo reverts the last applied transaction. Every file it touched must
// still hold the content it left behind.
func (a *App) Undo(ctx context.Context) (model.Summary, error) {
	return a.travel(ctx, true)
}

// Redo reapplies the last undone transaction.
func (a *App) Redo(ctx context.Context) (model.Summary, error) {
	return a.travel(ctx, false)
}

func (a *App) travel(ctx context.Context, undo bool) (model.Summary, error) {
	if _, err := a.sync(ctx, nil); err != nil {
		return model.Summary{}, err
	}

	plan, done, verb := a.history.PlanRedo, a.history.CompleteRedo, "Redid"
	if undo {
		plan, done, verb = a.history.PlanUndo, a.history.CompleteUndo, "Undid"
	}
	p, err := plan(ctx, a.store.Snapshot(), a.producer)
	switch {
	case errors.Is(err, state.ErrNothingToUndo):
		return model.Summary{Message: "No operation to undo."}, nil
	case errors.Is(err, state.ErrNothingToRedo):
		return model.Summary{Message: "No operation to redo."}, nil
	case err != nil:
		return model.Summary{}, err
	}

	var res txn.Result
	if p.Bundle.Len() > 0 {
		if res, err = a.coord.Apply(ctx, p.Bundle); err != nil {
			return model.Summary{}, err
		}
	}
	if err := done(p.Transaction.ID); err != nil {
		return model.Summary{}, err
	}
	summary := summarize(res, fmt.Sprintf("%s transaction %s.", verb, shortID(p.Transaction.ID)))
	summary.Transaction = p.Transaction.ID
	if err := a.publish(ctx, res, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Status lists tracked files and the journal.
func (a *App) Status() (model.Status, error) {
	snap := a.store.Snapshot()
	var st model.Status
	for _, p := range snap.Paths() {
		rec, _ := snap.Get(p)
		lines, ok, err := a.ws.ReadLines(p)
		if err != nil {
			return model.Status{}, err
		}
		st.Files = append(st.Files, model.FileStatus{
			Path:     p,
			Revision: rec.Revision,
			Missing:  !ok,
			Modified: ok && !slices.Equal(lines, rec.Lines),
		})
	}
	history, current := a.history.History()
	for i, tx := range history {
		entry := model.HistoryEntry{ID: tx.ID, Time: tx.Time().Format(time.RFC3339), Applied: i <= current}
		for _, op := range tx.Operations {
			entry.Paths = append(entry.Paths, op.Path)
		}
		st.History = append(st.History, entry)
	}
	return st, nil
}

// publish hands committed records to every publisher. Paths that some
// publisher could not take go to summary.Failed, directories created on disk
// to summary.Dirs.
func (a *App) publish(ctx context.Context, res txn.Result, summary *model.Summary) error {
	if len(res.Files) == 0 {
		return nil
	}
	records := make([]Record, len(res.Files))
	for i, f := range res.Files {
		records[i] = Record{Path: f.Path, Lines: f.After, Revision: f.Revision}
	}
	var missing []string
	if a.disk {
		missing = a.ws.MissingDirs(res.Paths())
	}
	defer func() { summary.Dirs = a.createdDirs(missing) }()

	total := len(records)
	a.report(0, total)
	var failed []string
	for _, p := range a.publishers {
		err := p.Publish(ctx, records)
		var perr *errs.PublishError
		switch {
		case err == nil:
		case errors.As(err, &perr):
			a.logger.Warn("Some files were committed but not published", zap.Strings("paths", perr.Failed), zap.Error(perr.Err))
			failed = append(failed, perr.Failed...)
		default:
			summary.Failed = failed
			return fmt.Errorf("publish: %w", err)
		}
	}
	a.report(total, total)
	slices.Sort(failed)
	summary.Failed = slices.Compact(failed)
	return nil
}

// createdDirs keeps the directories of missing that now exist, relative to
// the workspace root.
func (a *App) createdDirs(missing []string) []string {
	var out []string
	for _, dir := range missing {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if rel, err := filepath.Rel(a.ws.Root(), dir); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
	}
	return out
}

func (a *App) report(done, total int) {
	if a.progress != nil {
		a.progress(done, total)
	}
}

// rels maps command-line paths into the workspace.
func (a *App) rels(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := a.ws.Rel(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func summarize(res txn.Result, message string) model.Summary {
	s := model.Summary{Message: message}
	for _, f := range res.Files {
		stat := model.FileStat{Path: f.Path, Kind: f.Kind.String(), Added: f.Added, Removed: f.Removed}
		if f.Created {
			s.Created = append(s.Created, stat)
		} else {
			s.Modified = append(s.Modified, stat)
		}
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
