package bundle

import (
	"html"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/textutil"
)

var (
	hunkHeaderRe  = regexp.MustCompile(`^@@ -(\d+),(\d+) \+(\d+),(\d+) @@$`)
	headingRe     = regexp.MustCompile(`^@@ -(\d+),(\d+) \+(\d+),(\d+) @@ .*$`)
	looseHeaderRe = regexp.MustCompile(`^@@\s*(?:-(\d+)(?:,\d+)?)?\s*(?:\+(\d+)(?:,\d+)?)?\s*@@`)
	blockOpenRe   = regexp.MustCompile(`^<([A-Za-z_][\w.-]*)((?:\s+[\w-]+="[^"]*")*)\s*>$`)
	attrRe        = regexp.MustCompile(`([\w-]+)="([^"]*)"`)
)

// Parser decodes envelopes. It is safe for concurrent use.
type Parser struct {
	env     config.Environment
	lenient bool
}

// ParseOption configures a Parser.
type ParseOption func(*Parser)

// Lenient accepts hunk headers whose numbers are missing or wrong and takes
// the counts from each hunk body instead. Filename headers before the first
// hunk are skipped. Positions in the result are not trustworthy and must be
// fixed with patcher.Relocate before applying.
func Lenient() ParseOption {
	return func(p *Parser) { p.lenient = true }
}

// NewParser returns a parser resolving paths against env.
func NewParser(env config.Environment, opts ...ParseOption) *Parser {
	p := &Parser{env: env}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes the first envelope found in input with a strict parser.
func Parse(env config.Environment, input string) (Bundle, error) {
	return NewParser(env).Parse(input)
}

type rawBlock struct {
	kind     Kind
	path     string
	revision int64
	line     int // envelope line of the opening tag
	bodyLine int // envelope line of the first body line
	body     []string
	headings bool // accept a section heading after the closing @@
}

// Parse decodes the first envelope in input. Text around the envelope is
// ignored. Block bodies are decoded concurrently; when several are malformed
// the error of the earliest one is returned.
func (p *Parser) Parse(input string) (Bundle, error) {
	lines := strings.Split(textutil.NormalizeCRLF(input), "\n")
	blocks, _, err := p.scan(lines)
	if err != nil {
		return Bundle{}, err
	}

	entries := make([]Entry, len(blocks))
	failures := make([]error, len(blocks))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, blk := range blocks {
		g.Go(func() error {
			entries[i], failures[i] = p.entry(blk)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range failures {
		if err != nil {
			return Bundle{}, err
		}
	}

	b := Bundle{Entries: entries, BaseRevision: make(map[string]int64, len(blocks))}
	for _, blk := range blocks {
		b.BaseRevision[blk.path] = blk.revision
	}
	return b, nil
}

// Envelope reports the byte range of the first envelope in input, from the
// start of the opening tag line to the end of the closing tag line. An
// envelope opens only on a line holding nothing but the tag, so prose that
// mentions the tag inline has none. A malformed envelope extends to the end
// of input.
func (p *Parser) Envelope(input string) (start, end int, ok bool) {
	lines := strings.Split(input, "\n")
	first := p.envelopeStart(lines)
	if first < 0 {
		return 0, 0, false
	}
	offset := func(line int) int {
		n := 0
		for _, l := range lines[:line] {
			n += len(l) + 1
		}
		return n
	}
	start = offset(first)
	_, last, err := p.scan(lines)
	if err != nil {
		return start, len(input), true
	}
	return start, min(offset(last+1), len(input)), true
}

func (p *Parser) envelopeStart(lines []string) int {
	openTag := "<" + p.env.TagName() + ">"
	return slices.IndexFunc(lines, func(l string) bool { return strings.TrimSpace(l) == openTag })
}

// scan splits the envelope into blocks without looking inside them. last is
// the index of the closing tag line.
func (p *Parser) scan(lines []string) (blocks []rawBlock, last int, err error) {
	tag := p.env.TagName()
	closeTag := "</" + tag + ">"

	start := p.envelopeStart(lines)
	if start < 0 {
		return nil, 0, errs.Parsef("", 0, "no <%s> envelope found", tag)
	}

	seen := make(map[string]int)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if trimmed == closeTag {
			return blocks, i, nil
		}
		m := blockOpenRe.FindStringSubmatch(trimmed)
		if m == nil {
			return nil, 0, errs.Parsef("", i+1, "unexpected line %q outside a block", clip(lines[i]))
		}
		blk, err := p.openBlock(m[1], m[2], i+1)
		if err != nil {
			return nil, 0, err
		}
		if first, dup := seen[blk.path]; dup {
			return nil, 0, errs.Parsef(blk.path, i+1, "duplicate entry, first seen at line %d", first)
		}
		seen[blk.path] = i + 1

		closer := "</" + blk.kind.String() + ">"
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimRight(lines[j], " \t\r") == closer {
				end = j
				break
			}
		}
		if end < 0 {
			return nil, 0, errs.Parsef(blk.path, i+1, "unterminated <%s> block", blk.kind)
		}
		blk.bodyLine = i + 2
		blk.body = lines[i+1 : end : end]
		blocks = append(blocks, blk)
		i = end
	}
	return nil, 0, errs.Parsef("", len(lines), "unterminated <%s> envelope", tag)
}

func (p *Parser) openBlock(name, attrs string, line int) (rawBlock, error) {
	blk := rawBlock{line: line}
	switch name {
	case "diff":
		blk.kind = KindDiff
	case "file":
		blk.kind = KindFullFile
	default:
		return rawBlock{}, errs.Parsef("", line, "unknown block <%s>", name)
	}

	var rawPath, rawRev string
	var hasPath, hasRev bool
	for _, a := range attrRe.FindAllStringSubmatch(attrs, -1) {
		switch a[1] {
		case "path":
			rawPath, hasPath = html.UnescapeString(a[2]), true
		case "revision":
			rawRev, hasRev = a[2], true
		}
	}
	if !hasPath {
		return rawBlock{}, errs.Parsef("", line, "<%s> block without a path", name)
	}
	rel, ok := p.env.Rel(rawPath)
	if !ok {
		return rawBlock{}, errs.Parsef(rawPath, line, "path is outside %s", p.env.WorkDir())
	}
	blk.path = rel

	if hasRev {
		rev, err := strconv.ParseInt(rawRev, 10, 64)
		if err != nil || rev < 0 {
			return rawBlock{}, errs.Parsef(rel, line, "bad revision %q", rawRev)
		}
		blk.revision = rev
	}
	return blk, nil
}

func (p *Parser) entry(blk rawBlock) (Entry, error) {
	if blk.kind == KindFullFile {
		return FileEntry(blk.path, slices.Clone(blk.body)), nil
	}
	hunks, err := p.parseHunks(blk)
	if err != nil {
		return Entry{}, err
	}
	if !p.lenient {
		if err := diff.Validate(hunks); err != nil {
			return Entry{}, errs.Parsef(blk.path, blk.line, "%v", err)
		}
	}
	return DiffEntry(blk.path, hunks), nil
}

// ParseDiff decodes a unified diff found outside an envelope, such as a
// fenced diff block in markdown. Filename headers and blank lines before the
// first hunk are skipped.
func (p *Parser) ParseDiff(path, text string) ([]diff.Hunk, error) {
	lines := textutil.SplitLines(textutil.NormalizeCRLF(text))
	i := 0
	for i < len(lines) && !strings.HasPrefix(lines[i], "@@") && isPreamble(lines[i]) {
		i++
	}
	blk := rawBlock{kind: KindDiff, path: path, bodyLine: i + 1, body: lines[i:], headings: true}
	hunks, err := p.parseHunks(blk)
	if err != nil {
		return nil, err
	}
	if !p.lenient {
		if err := diff.Validate(hunks); err != nil {
			return nil, errs.Parsef(path, 0, "%v", err)
		}
	}
	return hunks, nil
}

func (p *Parser) parseHunks(blk rawBlock) ([]diff.Hunk, error) {
	var (
		hunks    []diff.Hunk
		cur      *diff.Hunk
		curLine  int
		trailing int // raw empty lines at the end of cur
	)
	finish := func() error {
		if cur == nil {
			return nil
		}
		orig, mod := cur.BodyCounts()
		if p.lenient {
			cur.OrigCount, cur.ModCount = orig, mod
		} else {
			// Blank lines before the closing tag are padding once the
			// declared counts are satisfied.
			for trailing > 0 && orig > cur.OrigCount && mod > cur.ModCount {
				cur.Lines = cur.Lines[:len(cur.Lines)-1]
				trailing--
				orig--
				mod--
			}
			if orig != cur.OrigCount || mod != cur.ModCount {
				return errs.Parsef(blk.path, curLine, "hunk %s declares -%d +%d lines but body has -%d +%d",
					cur.Header(), cur.OrigCount, cur.ModCount, orig, mod)
			}
		}
		hunks = append(hunks, *cur)
		cur = nil
		return nil
	}

	for k, raw := range blk.body {
		lineNo := blk.bodyLine + k
		if strings.HasPrefix(raw, "@@") {
			if err := finish(); err != nil {
				return nil, err
			}
			h, ok := p.header(raw, blk.headings || p.lenient)
			if !ok {
				return nil, errs.Parsef(blk.path, lineNo, "malformed hunk header %q", clip(raw))
			}
			cur, curLine, trailing = &h, lineNo, 0
			continue
		}
		if strings.HasPrefix(raw, `\`) {
			continue
		}
		if cur == nil {
			if p.lenient && isPreamble(raw) {
				continue
			}
			return nil, errs.Parsef(blk.path, lineNo, "expected hunk header, got %q", clip(raw))
		}
		if raw == "" {
			trailing++
		} else {
			trailing = 0
		}
		cur.Lines = append(cur.Lines, bodyLine(raw))
	}
	if err := finish(); err != nil {
		return nil, err
	}
	if len(hunks) == 0 {
		return nil, errs.Parsef(blk.path, blk.line, "diff block has no hunks")
	}
	return hunks, nil
}

func (p *Parser) header(raw string, headings bool) (diff.Hunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(raw)
	if m == nil && headings {
		m = headingRe.FindStringSubmatch(raw)
	}
	if m != nil {
		var nums [4]int
		for i := range nums {
			n, err := strconv.Atoi(m[i+1])
			if err != nil {
				return diff.Hunk{}, false
			}
			nums[i] = n
		}
		return diff.Hunk{OrigStart: nums[0], OrigCount: nums[1], ModStart: nums[2], ModCount: nums[3]}, true
	}
	if !p.lenient {
		return diff.Hunk{}, false
	}
	m = looseHeaderRe.FindStringSubmatch(raw)
	if m == nil {
		return diff.Hunk{}, false
	}
	orig, _ := strconv.Atoi(m[1])
	mod, _ := strconv.Atoi(m[2])
	return diff.Hunk{OrigStart: orig, ModStart: mod}, true
}

func bodyLine(raw string) diff.Line {
	if raw == "" {
		return diff.Line{Op: diff.OpContext}
	}
	switch raw[0] {
	case '+':
		return diff.Line{Op: diff.OpAdd, Text: raw[1:]}
	case '-':
		return diff.Line{Op: diff.OpRemove, Text: raw[1:]}
	case ' ':
		return diff.Line{Op: diff.OpContext, Text: raw[1:]}
	default:
		return diff.Line{Op: diff.OpContext, Text: raw}
	}
}

// isPreamble reports git and unified-diff file headers.
func isPreamble(raw string) bool {
	for _, p := range []string{"--- ", "+++ ", "diff ", "index "} {
		if strings.HasPrefix(raw, p) {
			return true
		}
	}
	return strings.TrimSpace(raw) == ""
}

func clip(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
