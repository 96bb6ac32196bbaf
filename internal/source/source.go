// Package source reads the text fmod applies: a named file, piped stdin or
// the clipboard, in that order of preference.
package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/textutil"
)

// Kind names where content came from.
type Kind string

const (
	KindFile      Kind = "file"
	KindStdin     Kind = "stdin"
	KindClipboard Kind = "clipboard"
)

// Provider determines and retrieves the source content.
type Provider struct {
	stdin     *os.File
	clipboard func() (string, error)
	logger    *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithStdin replaces os.Stdin.
func WithStdin(f *os.File) Option {
	return func(p *Provider) { p.stdin = f }
}

// WithClipboard replaces the system clipboard reader.
func WithClipboard(read func() (string, error)) Option {
	return func(p *Provider) { p.clipboard = read }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Provider reading the process stdin and system clipboard.
func New(opts ...Option) *Provider {
	p := &Provider{stdin: os.Stdin, clipboard: clipboard.ReadAll}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger).Named("source")
	return p
}

// Content reads path when it is not empty, stdin when it is piped and the
// clipboard otherwise. CRLF input is read as LF. Whitespace-only
// input is returned as "".
func (p *Provider) Content(path string) (string, Kind, error) {
	var (
		data []byte
		kind Kind
		err  error
	)
	switch {
	case path == "-":
		kind = KindStdin
		data, err = io.ReadAll(p.stdin)
	case path != "":
		kind = KindFile
		data, err = os.ReadFile(path)
	case p.piped():
		kind = KindStdin
		data, err = io.ReadAll(p.stdin)
	default:
		kind = KindClipboard
		var text string
		text, err = p.clipboard()
		data = []byte(text)
	}
	if err != nil {
		return "", kind, fmt.Errorf("failed to read from %s: %w", kind, err)
	}
	p.logger.Debug("Read input", zap.String("source", string(kind)), zap.Int("bytes", len(data)))

	content := textutil.NormalizeCRLF(string(data))
	if strings.TrimSpace(content) == "" {
		return "", kind, nil
	}
	return content, kind, nil
}

func (p *Provider) piped() bool {
	stat, err := p.stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}
