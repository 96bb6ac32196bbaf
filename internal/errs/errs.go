// Package errs defines the error taxonomy shared by the bundle parser, the
// diff applier and the transaction coordinator. Every error here is
// recoverable: when one is returned the file store has not been modified.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrParse marks malformed envelopes, hunk headers or line counts.
	ErrParse = errors.New("parse error")
	// ErrApplyConflict marks a hunk whose expected lines are not in the baseline.
	ErrApplyConflict = errors.New("apply conflict")
	// ErrConflict marks a stale base revision.
	ErrConflict = errors.New("revision conflict")
)

// ParseError reports input that is not a well-formed bundle.
type ParseError struct {
	Path string // empty when the failure is outside any block
	Line int    // 1-based line in the envelope, 0 if unknown
	Msg  string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Parsef builds a ParseError.
func Parsef(path string, line int, format string, a ...any) error {
	return &ParseError{Path: path, Line: line, Msg: fmt.Sprintf(format, a...)}
}

// ApplyConflictError reports a baseline that drifted since the diff was computed.
type ApplyConflictError struct {
	Path string
	Hunk int // 0-based hunk index
	Line int // 1-based baseline line where the mismatch was found
	Want string
	Got  string
	EOF  bool // baseline ended before the hunk did
}

func (e *ApplyConflictError) Error() string {
	where := e.Path
	if where == "" {
		where = "baseline"
	}
	if e.EOF {
		return fmt.Sprintf("apply conflict in %s: hunk %d expects line %d %q past end of file", where, e.Hunk+1, e.Line, e.Want)
	}
	return fmt.Sprintf("apply conflict in %s: hunk %d line %d: want %q, got %q", where, e.Hunk+1, e.Line, e.Want, e.Got)
}

func (e *ApplyConflictError) Unwrap() error { return ErrApplyConflict }

// StaleRevision is one path whose declared base revision is out of date.
type StaleRevision struct {
	Path    string
	Base    int64
	Current int64
}

// ConflictError reports every stale path of a rejected bundle.
type ConflictError struct {
	Stale []StaleRevision
}

// NewConflict sorts the stale paths so messages are stable.
func NewConflict(stale []StaleRevision) *ConflictError {
	sort.Slice(stale, func(i, j int) bool { return stale[i].Path < stale[j].Path })
	return &ConflictError{Stale: stale}
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Stale))
	for i, s := range e.Stale {
		parts[i] = fmt.Sprintf("%s (base %d, current %d)", s.Path, s.Base, s.Current)
	}
	return "revision conflict: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PublishError reports records that were committed but could not be
// mirrored to a sink. The store already holds them.
type PublishError struct {
	Failed []string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
