// Package diff computes line-level unified-diff hunks between two versions of
// a file. Alignment runs the Myers implementation of sergi/go-diff over one
// rune per distinct line; grouping into hunks and context padding are done
// here.
package diff

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/golang/groupcache/lru"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines padding each hunk.
const DefaultContext = 3

// DefaultCacheSize bounds the memo enabled by WithCache.
const DefaultCacheSize = 256

// Engine computes hunks. It is safe for concurrent use.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int

	mu    sync.Mutex
	cache *lru.Cache // cacheKey -> []Hunk; nil when disabled
}

type cacheKey struct {
	old, new [sha256.Size]byte
	context  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithContext sets the context width. Negative values are treated as 0.
func WithContext(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		e.context = n
	}
}

// WithCache memoizes up to size results keyed by content hash, evicting the
// least recently used. size <= 0 means DefaultCacheSize.
func WithCache(size int) Option {
	return func(e *Engine) {
		if size <= 0 {
			size = DefaultCacheSize
		}
		e.cache = lru.New(size)
	}
}

// NewEngine creates an engine with exact (untimed) alignment.
func NewEngine(opts ...Option) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	e := &Engine{dmp: dmp, context: DefaultContext}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context reports the configured context width.
func (e *Engine) Context() int { return e.context }

// Encode returns the hunks turning old into new. Identical inputs yield nil,
// which callers treat as "nothing to send for this file".
func (e *Engine) Encode(old, new []string) []Hunk {
	if slices.Equal(old, new) {
		return nil
	}
	if e.cache == nil {
		return group(e.align(old, new), e.context)
	}

	key := cacheKey{old: hashLines(old), new: hashLines(new), context: e.context}
	e.mu.Lock()
	cached, ok := e.cache.Get(key)
	e.mu.Unlock()
	if ok {
		return cloneHunks(cached.([]Hunk))
	}

	hunks := group(e.align(old, new), e.context)

	e.mu.Lock()
	e.cache.Add(key, cloneHunks(hunks))
	e.mu.Unlock()
	return hunks
}

// CacheLen reports how many results are memoized.
func (e *Engine) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// ClearCache drops memoized results.
func (e *Engine) ClearCache() {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	e.cache.Clear()
	e.mu.Unlock()
}

// Encode uses a default engine.
func Encode(old, new []string) []Hunk {
	return defaultEngine.Encode(old, new)
}

var defaultEngine = NewEngine()

// edit is one line of the alignment.
type edit struct {
	op   Op
	text string
}

// align produces a minimal edit script. Each distinct line is mapped to one
// rune so the Myers search runs over lines, not characters. DiffCleanupMerge
// then slides lone edits sideways across equalities where that merges them
// with a neighbouring edit, so among equally short scripts the one with
// fewer change regions wins.
func (e *Engine) align(old, new []string) []edit {
	a, b, lines, ok := linesToRunes(old, new)
	if !ok {
		return replaceMiddle(old, new)
	}
	diffs := e.dmp.DiffMainRunes(a, b, false)
	diffs = e.dmp.DiffCleanupMerge(diffs)

	edits := make([]edit, 0, len(old)+len(new))
	for _, d := range diffs {
		var op Op
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = OpContext
		case diffmatchpatch.DiffDelete:
			op = OpRemove
		case diffmatchpatch.DiffInsert:
			op = OpAdd
		}
		for _, r := range d.Text {
			edits = append(edits, edit{op: op, text: lines[runeIndex(r)]})
		}
	}
	return edits
}

// Surrogates are not valid runes and would not survive the string
// conversions inside diffmatchpatch, so line indices skip over them.
const (
	surrogateMin = 0xD800
	surrogateLen = 0x800
	maxDistinct  = int(utf8.MaxRune) - surrogateLen
)

func indexRune(i int) rune {
	r := rune(i) + 1
	if r >= surrogateMin {
		r += surrogateLen
	}
	return r
}

func runeIndex(r rune) int {
	if r >= surrogateMin+surrogateLen {
		r -= surrogateLen
	}
	return int(r) - 1
}

// linesToRunes encodes both sides over a shared line table. ok is false when
// there are more distinct lines than runes to name them.
func linesToRunes(old, new []string) (a, b []rune, lines []string, ok bool) {
	index := make(map[string]int, len(old)+len(new))
	encode := func(side []string) []rune {
		out := make([]rune, len(side))
		for i, l := range side {
			n, seen := index[l]
			if !seen {
				n = len(lines)
				index[l] = n
				lines = append(lines, l)
			}
			out[i] = indexRune(n)
		}
		return out
	}
	a, b = encode(old), encode(new)
	if len(lines) > maxDistinct {
		return nil, nil, nil, false
	}
	return a, b, lines, true
}

// replaceMiddle is the fallback script: shared prefix and suffix as context,
// everything between removed and re-added.
func replaceMiddle(old, new []string) []edit {
	p := 0
	for p < len(old) && p < len(new) && old[p] == new[p] {
		p++
	}
	s := 0
	for s < len(old)-p && s < len(new)-p && old[len(old)-1-s] == new[len(new)-1-s] {
		s++
	}
	edits := make([]edit, 0, len(old)+len(new)-p-s)
	for _, l := range old[:p] {
		edits = append(edits, edit{op: OpContext, text: l})
	}
	for _, l := range old[p : len(old)-s] {
		edits = append(edits, edit{op: OpRemove, text: l})
	}
	for _, l := range new[p : len(new)-s] {
		edits = append(edits, edit{op: OpAdd, text: l})
	}
	for _, l := range old[len(old)-s:] {
		edits = append(edits, edit{op: OpContext, text: l})
	}
	return edits
}

// group cuts the edit script into hunks. Change runs separated by at most
// 2*context unchanged lines share a hunk; each hunk keeps up to context
// unchanged lines on either side.
func group(edits []edit, context int) []Hunk {
	// oldBefore[i] / newBefore[i]: lines of each side preceding edits[i].
	oldBefore := make([]int, len(edits)+1)
	newBefore := make([]int, len(edits)+1)
	for i, ed := range edits {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if ed.op != OpAdd {
			oldBefore[i+1]++
		}
		if ed.op != OpRemove {
			newBefore[i+1]++
		}
	}

	var hunks []Hunk
	i := 0
	for i < len(edits) {
		if edits[i].op == OpContext {
			i++
			continue
		}
		first, last := i, i
		for j := i + 1; j < len(edits); j++ {
			if edits[j].op == OpContext {
				continue
			}
			if j-last-1 > 2*context {
				break
			}
			last = j
		}

		lo := max(first-context, 0)
		hi := min(last+1+context, len(edits))
		h := Hunk{Lines: make([]Line, 0, hi-lo)}
		for _, ed := range edits[lo:hi] {
			h.Lines = append(h.Lines, Line{Op: ed.op, Text: ed.text})
		}
		h.OrigCount = oldBefore[hi] - oldBefore[lo]
		h.ModCount = newBefore[hi] - newBefore[lo]
		h.OrigStart = oldBefore[lo]
		if h.OrigCount > 0 {
			h.OrigStart++
		}
		h.ModStart = newBefore[lo]
		if h.ModCount > 0 {
			h.ModStart++
		}
		hunks = append(hunks, h)
		i = last + 1
	}
	return hunks
}

func hashLines(lines []string) [sha256.Size]byte {
	h := sha256.New()
	var n [8]byte
	for _, l := range lines {
		binary.LittleEndian.PutUint64(n[:], uint64(len(l)))
		h.Write(n[:])
		h.Write([]byte(l))
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func cloneHunks(hunks []Hunk) []Hunk {
	if hunks == nil {
		return nil
	}
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		h.Lines = slices.Clone(h.Lines)
		out[i] = h
	}
	return out
}
