// Package fs connects the file store to the workspace on disk: it maps
// command-line paths into workspace-relative ones, detects files edited since
// they were last committed, and publishes committed records back to disk.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/store"
	"github.com/sokinpui/fmod/internal/textutil"
)

// FindRoot returns the top of the enclosing git repository, or the current
// directory outside of one.
func FindRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("could not get current working directory: %w", err)
	}
	return wd, nil
}

// Workspace is a directory tree that committed records are mirrored into.
type Workspace struct {
	root   string
	logger *zap.Logger
}

// NewWorkspace returns a workspace rooted at root.
func NewWorkspace(root string, logger *zap.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{root: abs, logger: logging.OrNop(logger).Named("fs")}, nil
}

// Root is the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Rel maps p, absolute or relative to the current directory, to a
// slash-separated workspace-relative path.
func (w *Workspace) Rel(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace %s", p, w.root)
	}
	return filepath.ToSlash(rel), nil
}

// Abs returns the on-disk location of a workspace-relative path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// ReadLines reads a workspace file. ok is false when it does not exist. Line
// bytes are kept as they are, so CRLF files keep their "\r".
func (w *Workspace) ReadLines(rel string) (lines []string, ok bool, err error) {
	data, err := os.ReadFile(w.Abs(rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", rel, err)
	}
	return textutil.SplitLines(string(data)), true, nil
}

// Publish writes every record to disk, creating parent directories. Files
// are replaced atomically one at a time; a failed file does not stop the
// rest and is reported in an *errs.PublishError.
func (w *Workspace) Publish(ctx context.Context, records []store.Record) error {
	var (
		failed  []string
		errList []error
	)
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := WriteFileAtomic(w.Abs(r.Path), []byte(textutil.JoinLines(r.Lines)), 0o644); err != nil {
			w.logger.Warn("Write failed", zap.String("path", r.Path), zap.Error(err))
			failed = append(failed, r.Path)
			errList = append(errList, err)
			continue
		}
		w.logger.Debug("Published", zap.String("path", r.Path), zap.Int64("revision", r.Revision))
	}
	if len(failed) > 0 {
		return &errs.PublishError{Failed: failed, Err: errors.Join(errList...)}
	}
	return nil
}

// MissingDirs lists, sorted, the directories Publish would create for paths.
func (w *Workspace) MissingDirs(paths []string) []string {
	dirs := make(map[string]struct{})
	for _, p := range paths {
		for dir := filepath.Dir(w.Abs(p)); dir != w.root && len(dir) > len(w.root); dir = filepath.Dir(dir) {
			if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
				dirs[dir] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// WriteFileAtomic writes data to a temporary sibling and renames it over
// path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// HashLines is the hex SHA-256 of the text form of lines.
func HashLines(lines []string) string {
	sum := sha256.Sum256([]byte(textutil.JoinLines(lines)))
	return hex.EncodeToString(sum[:])
}
