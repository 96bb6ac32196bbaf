// Package nvim publishes committed records into Neovim buffers, either in
// the instance named by NVIM_LISTEN_ADDRESS or in a temporary headless one.
package nvim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/store"
)

const undoDir = "~/.local/state/nvim/undo/"

// Manager holds a connection to Neovim.
type Manager struct {
	nvim          *nvim.Nvim
	root          string
	save          bool
	progress      func(done, total int)
	isSelfStarted bool
	cmd           *exec.Cmd
	socketPath    string
	logger        *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSave writes every updated buffer after publishing.
func WithSave() Option {
	return func(m *Manager) { m.save = true }
}

// WithProgress is called after each record is published.
func WithProgress(fn func(done, total int)) Option {
	return func(m *Manager) { m.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New connects to Neovim. Record paths are resolved against root.
func New(root string, opts ...Option) (*Manager, error) {
	m := &Manager{root: root}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Named("nvim")

	if addr := os.Getenv("NVIM_LISTEN_ADDRESS"); addr != "" {
		v, err := nvim.Dial(addr)
		if err == nil {
			m.nvim = v
			return m, nil
		}
		m.logger.Warn("Could not reach running Neovim, starting a headless one", zap.String("addr", addr), zap.Error(err))
	}

	tmpDir, err := os.MkdirTemp("", "fmod-nvim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for nvim: %w", err)
	}
	m.socketPath = filepath.Join(tmpDir, "nvim.sock")

	m.cmd = exec.Command("nvim", "--headless", "--clean", "--listen", m.socketPath)
	if err := m.cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to start headless nvim: %w. Is 'nvim' in your PATH?", err)
	}
	m.isSelfStarted = true

	for i := 0; i < 20; i++ {
		if _, err := os.Stat(m.socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	v, err := nvim.Dial(m.socketPath)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to connect to headless nvim: %w", err)
	}
	m.nvim = v
	m.configureTempInstance()
	return m, nil
}

// configureTempInstance enables persistent undo so edits made here can be
// undone from the user's editor later.
func (m *Manager) configureTempInstance() {
	home, _ := os.UserHomeDir()
	expandedUndoDir := strings.Replace(undoDir, "~", home, 1)
	_ = os.MkdirAll(expandedUndoDir, 0o755)

	b := m.nvim.NewBatch()
	b.Command("set undofile")
	b.Command(fmt.Sprintf("set undodir=%s", expandedUndoDir))
	b.Command("set noswapfile")
	if err := b.Execute(); err != nil {
		m.logger.Debug("Configuring headless Neovim failed", zap.Error(err))
	}
}

// Close disconnects and stops a self-started instance.
func (m *Manager) Close() {
	if m.nvim != nil {
		m.nvim.Close()
	}
	if m.isSelfStarted && m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err == nil {
			_ = m.cmd.Wait()
		}
		os.RemoveAll(filepath.Dir(m.socketPath))
	}
}

// Publish replaces the buffer of every record with its lines. All records
// are attempted; the ones that failed are named in an *errs.PublishError.
func (m *Manager) Publish(ctx context.Context, records []store.Record) error {
	var (
		failed  []string
		errList []error
	)
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.updateBuffer(filepath.Join(m.root, filepath.FromSlash(r.Path)), r.Lines); err != nil {
			m.logger.Warn("Buffer update failed", zap.String("path", r.Path), zap.Error(err))
			failed = append(failed, r.Path)
			errList = append(errList, err)
		}
		if m.progress != nil {
			m.progress(i+1, len(records))
		}
	}
	if m.save {
		if err := m.nvim.Command("wa!"); err != nil {
			return fmt.Errorf("save buffers: %w", err)
		}
	}
	if len(failed) > 0 {
		return &errs.PublishError{Failed: failed, Err: errors.Join(errList...)}
	}
	return nil
}

func (m *Manager) updateBuffer(absPath string, content []string) error {
	byteContent := make([][]byte, len(content))
	for i, s := range content {
		byteContent[i] = []byte(s)
	}

	b := m.nvim.NewBatch()
	b.Command(fmt.Sprintf("edit %s", escapePath(absPath)))
	b.SetBufferLines(0, 0, -1, true, byteContent)
	return b.Execute()
}

// escapePath escapes characters that are special in an Ex file argument.
func escapePath(p string) string {
	var b strings.Builder
	for _, r := range p {
		if strings.ContainsRune(` \%#|"`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
