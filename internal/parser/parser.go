// Package parser turns an assistant's markdown reply into a bundle. Envelope
// blocks are taken as they are; fenced diff blocks and fenced code blocks
// preceded by a backticked path are converted into entries.
package parser

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/store"
	"github.com/sokinpui/fmod/internal/textutil"
)

var pathInHintRegex = regexp.MustCompile("`([^`\n]+)`")

// Markdown extracts bundles from markdown text.
type Markdown struct {
	env        config.Environment
	parser     *bundle.Parser
	extensions []string
	logger     *zap.Logger
}

// Option configures Markdown.
type Option func(*Markdown)

// WithExtensions keeps only code blocks for files with one of exts, e.g.
// ".go". Diff blocks and envelopes are not filtered.
func WithExtensions(exts ...string) Option {
	return func(m *Markdown) { m.extensions = exts }
}

// WithLenientHeaders accepts diffs whose hunk numbers are wrong; the
// resulting bundle must be applied with relocation.
func WithLenientHeaders() Option {
	return func(m *Markdown) { m.parser = bundle.NewParser(m.env, bundle.Lenient()) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Markdown) { m.logger = l }
}

// New returns a markdown extractor for env.
func New(env config.Environment, opts ...Option) *Markdown {
	m := &Markdown{env: env, parser: bundle.NewParser(env)}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Named("parser")
	return m
}

// Parse builds a bundle from content. Entries taken from markdown blocks
// are based on the revisions in snap. When several blocks name the same
// path, an envelope entry wins over a file block, which wins over a diff
// block; among equals the last one wins. Input with nothing to apply yields
// an empty bundle.
func (m *Markdown) Parse(content string, snap *store.Snapshot) (bundle.Bundle, error) {
	content = textutil.NormalizeCRLF(content)
	out := bundle.Bundle{BaseRevision: map[string]int64{}}
	rank := map[string]int{}
	add := func(e bundle.Entry, base int64, r int) {
		if prev, ok := rank[e.Path]; ok {
			if r < prev {
				return
			}
			i := slices.IndexFunc(out.Entries, func(x bundle.Entry) bool { return x.Path == e.Path })
			out.Entries = slices.Delete(out.Entries, i, i+1)
		}
		rank[e.Path] = r
		out.Entries = append(out.Entries, e)
		out.BaseRevision[e.Path] = base
	}

	markdown := content
	if start, end, ok := m.parser.Envelope(content); ok {
		env, err := m.parser.Parse(content)
		if err != nil {
			return bundle.Bundle{}, err
		}
		for _, e := range env.Entries {
			add(e, env.Base(e.Path), rankEnvelope)
		}
		// Fences inside the envelope belong to file contents.
		markdown = content[:start] + content[end:]
	}

	blocks, err := ExtractCodeBlocks([]byte(markdown))
	if err != nil {
		return bundle.Bundle{}, errs.Parsef("", 0, "markdown: %v", err)
	}
	for _, block := range blocks {
		switch {
		case block.Lang == "diff":
			path := m.diffPath(block)
			if path == "" {
				m.logger.Warn("Found a diff block but could not extract a file path, skipping")
				continue
			}
			hunks, err := m.parser.ParseDiff(path, block.Content)
			if err != nil {
				return bundle.Bundle{}, err
			}
			add(bundle.DiffEntry(path, hunks), snap.Revision(path), rankDiff)
		default:
			path := m.resolve(extractPathFromHint(block.Hint))
			if path == "" || !hasAllowedExtension(path, m.extensions) {
				continue
			}
			add(bundle.FileEntry(path, textutil.SplitLines(block.Content)), snap.Revision(path), rankFile)
		}
	}
	return out, nil
}

const (
	rankDiff = iota
	rankFile
	rankEnvelope
)

// diffPath takes the path from the +++ header, falling back to --- and then
// to the hint.
func (m *Markdown) diffPath(block CodeBlock) string {
	if p := m.resolve(ExtractPathFromDiff(block.Content)); p != "" {
		return p
	}
	return m.resolve(extractPathFromHint(block.Hint))
}

func (m *Markdown) resolve(p string) string {
	if p == "" {
		return ""
	}
	rel, ok := m.env.Rel(p)
	if !ok {
		m.logger.Warn("Ignoring path outside the workspace", zap.String("path", p))
		return ""
	}
	return rel
}

// ExtractPathFromDiff returns the file named by a diff's filename headers,
// without the a/ or b/ prefix. /dev/null is ignored.
func ExtractPathFromDiff(text string) string {
	var minus string
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			if p := headerPath(line[4:], "b/"); p != "" {
				return p
			}
		case strings.HasPrefix(line, "--- ") && minus == "":
			minus = headerPath(line[4:], "a/")
		case strings.HasPrefix(line, "@@"):
			return minus
		}
	}
	return minus
}

func headerPath(field, prefix string) string {
	// Drop a trailing timestamp.
	if i := strings.IndexByte(field, '\t'); i >= 0 {
		field = field[:i]
	}
	field = strings.TrimSpace(field)
	if field == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(field, prefix)
}

func extractPathFromHint(hint string) string {
	if match := pathInHintRegex.FindStringSubmatch(strings.TrimSpace(hint)); len(match) > 1 {
		path := strings.TrimSpace(match[1])
		// Spaces mean a command such as `go run main.go`, not a path.
		if !strings.Contains(path, " ") {
			return path
		}
	}
	return ""
}

func hasAllowedExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	return slices.Contains(extensions, filepath.Ext(path))
}
