package config

import (
	"path"
	"strings"
)

// TieBreak selects the encoding when a diff is exactly as long as the file.
type TieBreak string

const (
	TieBreakFullFile TieBreak = "file"
	TieBreakDiff     TieBreak = "diff"
)

// Environment is the sandbox description handed to the serializer, the
// parser and the producer. Its fields are fixed at construction.
type Environment struct {
	workDir  string
	tagName  string
	context  int
	tieBreak TieBreak
}

// NewEnvironment normalizes its inputs; zero values fall back to defaults.
func NewEnvironment(workDir, tagName string, context int, tieBreak TieBreak) Environment {
	if workDir == "" {
		workDir = DefaultWorkDir
	}
	if tagName == "" {
		tagName = DefaultTagName
	}
	if context < 0 {
		context = 0
	}
	if tieBreak != TieBreakDiff {
		tieBreak = TieBreakFullFile
	}
	return Environment{
		workDir:  path.Clean("/" + strings.TrimPrefix(workDir, "/")),
		tagName:  tagName,
		context:  context,
		tieBreak: tieBreak,
	}
}

// DefaultEnvironment uses /home/project, the bolt tag and 3 context lines.
func DefaultEnvironment() Environment {
	return NewEnvironment(DefaultWorkDir, DefaultTagName, 3, TieBreakFullFile)
}

func (e Environment) WorkDir() string { return e.workDir }
func (e Environment) TagName() string { return e.tagName }
func (e Environment) ContextLines() int { return e.context }
func (e Environment) TieBreak() TieBreak { return e.tieBreak }

// Abs renders a workspace-relative path the way envelopes carry it.
func (e Environment) Abs(rel string) string {
	return path.Join(e.workDir, rel)
}

// Rel maps an envelope path back into the workspace. Absolute paths must lie
// under WorkDir; relative paths are taken as workspace-relative. ok is false
// for paths that escape the workspace or name the workspace itself.
func (e Environment) Rel(p string) (rel string, ok bool) {
	if p == "" {
		return "", false
	}
	if strings.HasPrefix(p, "/") {
		clean := path.Clean(p)
		prefix := strings.TrimSuffix(e.workDir, "/") + "/"
		if !strings.HasPrefix(clean, prefix) {
			return "", false
		}
		return strings.TrimPrefix(clean, prefix), true
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}
