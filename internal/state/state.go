// Package state journals committed transactions so they can be undone and
// redone. File contents on either side of a transaction are kept as
// content-addressed blobs next to the journal.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/fs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/store"
	"github.com/sokinpui/fmod/internal/txn"
)

// JournalFileName is the journal inside the state directory.
const JournalFileName = "state.fmod"

const (
	ActionCreate = "create"
	ActionModify = "modify"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Operation is one path touched by a transaction.
type Operation struct {
	Action     string
	Path       string
	Revision   int64 // revision the transaction left the path at
	BeforeHash string
	AfterHash  string
}

// Transaction is one committed bundle.
type Transaction struct {
	ID         string
	Timestamp  int64
	Operations []Operation
}

// Time is the commit time.
func (t Transaction) Time() time.Time { return time.Unix(t.Timestamp, 0).UTC() }

// Plan is a bundle that undoes or redoes Transaction.
type Plan struct {
	Transaction Transaction
	Bundle      bundle.Bundle
}

// Manager owns the journal file. It is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	journalPath string
	history     []Transaction
	current     int // index of the last applied transaction, -1 for none
	blobs       blobStore
	logger      *zap.Logger
}

// Open loads the journal in dir, creating dir if needed. An unreadable
// journal is replaced by an empty history.
func Open(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	m := &Manager{
		journalPath: filepath.Join(dir, JournalFileName),
		current:     -1,
		blobs:       blobStore{dir: dir},
		logger:      logging.OrNop(logger).Named("state"),
	}
	if err := m.load(); err != nil {
		m.logger.Warn("Journal unreadable, starting a new history", zap.Error(err))
		m.history, m.current = nil, -1
	}
	return m, nil
}

// Record journals a committed result and drops any redo tail. Results that
// touched no files are not recorded.
func (m *Manager) Record(res txn.Result) (Transaction, error) {
	if len(res.Files) == 0 {
		return Transaction{}, nil
	}
	tx := Transaction{ID: uuid.NewString(), Timestamp: time.Now().UTC().Unix()}
	for _, f := range res.Files {
		before, err := m.blobs.save(f.Before)
		if err != nil {
			return Transaction{}, fmt.Errorf("save blob for %s: %w", f.Path, err)
		}
		after, err := m.blobs.save(f.After)
		if err != nil {
			return Transaction{}, fmt.Errorf("save blob for %s: %w", f.Path, err)
		}
		action := ActionModify
		if f.Created {
			action = ActionCreate
		}
		tx.Operations = append(tx.Operations, Operation{
			Action:     action,
			Path:       f.Path,
			Revision:   f.Revision,
			BeforeHash: before,
			AfterHash:  after,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	history, current := m.history, m.current
	m.history = append(slices.Clip(m.history[:m.current+1]), tx)
	m.current++
	if err := m.save(); err != nil {
		m.history, m.current = history, current
		return Transaction{}, err
	}
	m.logger.Debug("Transaction recorded", zap.String("id", tx.ID), zap.Int("operations", len(tx.Operations)))
	return tx, nil
}

// PlanUndo builds the bundle restoring the contents the last applied
// transaction replaced. Every path must still hold the content that
// transaction left behind, otherwise the plan fails with an
// *errs.ConflictError. Base revisions come from snap, so a commit racing the
// undo is caught when the bundle is applied.
func (m *Manager) PlanUndo(ctx context.Context, snap *store.Snapshot, p *bundle.Producer) (Plan, error) {
	m.mu.Lock()
	if m.current < 0 {
		m.mu.Unlock()
		return Plan{}, ErrNothingToUndo
	}
	tx := cloneTx(m.history[m.current])
	m.mu.Unlock()
	return m.plan(ctx, snap, p, tx, true)
}

// PlanRedo builds the bundle reapplying the next undone transaction. Every
// path must hold the content that transaction originally replaced.
func (m *Manager) PlanRedo(ctx context.Context, snap *store.Snapshot, p *bundle.Producer) (Plan, error) {
	m.mu.Lock()
	if m.current+1 >= len(m.history) {
		m.mu.Unlock()
		return Plan{}, ErrNothingToRedo
	}
	tx := cloneTx(m.history[m.current+1])
	m.mu.Unlock()
	return m.plan(ctx, snap, p, tx, false)
}

func (m *Manager) plan(ctx context.Context, snap *store.Snapshot, p *bundle.Producer, tx Transaction, undo bool) (Plan, error) {
	var stale []errs.StaleRevision
	changes := make([]bundle.Change, 0, len(tx.Operations))
	for _, op := range tx.Operations {
		from, to := op.AfterHash, op.BeforeHash
		if !undo {
			from, to = to, from
		}
		cur := snap.Revision(op.Path)
		if fs.HashLines(snap.Lines(op.Path)) != from {
			stale = append(stale, errs.StaleRevision{Path: op.Path, Base: op.Revision, Current: cur})
			continue
		}
		lines, err := m.blobs.read(to)
		if err != nil {
			return Plan{}, fmt.Errorf("read stored content of %s: %w", op.Path, err)
		}
		changes = append(changes, bundle.Change{Path: op.Path, Old: snap.Lines(op.Path), New: lines, BaseRevision: cur})
	}
	if len(stale) > 0 {
		return Plan{}, errs.NewConflict(stale)
	}
	b, err := p.Build(ctx, changes)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Transaction: tx, Bundle: b}, nil
}

// CompleteUndo moves the history back past id once its undo bundle has been
// committed.
func (m *Manager) CompleteUndo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current < 0 || m.history[m.current].ID != id {
		return fmt.Errorf("history changed while undoing %s", id)
	}
	m.current--
	return m.save()
}

// CompleteRedo moves the history forward over id once its redo bundle has
// been committed.
func (m *Manager) CompleteRedo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.current + 1
	if next >= len(m.history) || m.history[next].ID != id {
		return fmt.Errorf("history changed while redoing %s", id)
	}
	m.current = next
	return m.save()
}

// History returns every journaled transaction, oldest first, and the index
// of the last applied one.
func (m *Manager) History() ([]Transaction, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, len(m.history))
	for i, tx := range m.history {
		out[i] = cloneTx(tx)
	}
	return out, m.current
}

func cloneTx(tx Transaction) Transaction {
	tx.Operations = slices.Clone(tx.Operations)
	return tx
}

// The journal is plain text: the current index, then one blank-line
// separated block per transaction holding its id, its unix timestamp and
// five lines per operation (action, path, revision, before hash, after
// hash).

func (m *Manager) load() error {
	data, err := os.ReadFile(m.journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	blocks := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n")
	if len(blocks) == 0 || strings.TrimSpace(blocks[0]) == "" {
		return nil
	}
	index, err := strconv.Atoi(strings.TrimSpace(blocks[0]))
	if err != nil {
		return fmt.Errorf("invalid journal: could not parse current index: %w", err)
	}

	var history []Transaction
	for _, block := range blocks[1:] {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 || (len(lines)-2)%5 != 0 {
			return fmt.Errorf("invalid journal: incomplete transaction record")
		}
		ts, err := strconv.ParseInt(lines[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid journal: could not parse timestamp from '%s': %w", lines[1], err)
		}
		tx := Transaction{ID: lines[0], Timestamp: ts}
		for i := 2; i < len(lines); i += 5 {
			rev, err := strconv.ParseInt(lines[i+2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid journal: could not parse revision from '%s': %w", lines[i+2], err)
			}
			tx.Operations = append(tx.Operations, Operation{
				Action:     lines[i],
				Path:       lines[i+1],
				Revision:   rev,
				BeforeHash: lines[i+3],
				AfterHash:  lines[i+4],
			})
		}
		history = append(history, tx)
	}
	if index < -1 || index >= len(history) {
		return fmt.Errorf("invalid journal: current index %d out of range", index)
	}
	m.history, m.current = history, index
	return nil
}

func (m *Manager) save() error {
	blocks := []string{strconv.Itoa(m.current)}
	for _, tx := range m.history {
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n%d", tx.ID, tx.Timestamp)
		for _, op := range tx.Operations {
			fmt.Fprintf(&b, "\n%s\n%s\n%d\n%s\n%s", op.Action, op.Path, op.Revision, op.BeforeHash, op.AfterHash)
		}
		blocks = append(blocks, b.String())
	}
	content := strings.Join(blocks, "\n\n") + "\n"
	if err := fs.WriteFileAtomic(m.journalPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
