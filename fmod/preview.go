package fmod

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Preview renders the workspace edits Diff would encode as a conventional
// unified diff with a/ and b/ file headers, for review before committing.
func (a *App) Preview(paths ...string) (string, error) {
	rels, err := a.rels(paths)
	if err != nil {
		return "", err
	}
	snap := a.store.Snapshot()
	if len(rels) == 0 && snap.Len() == 0 {
		return "", nil
	}
	changes, err := a.ws.Scan(snap, rels...)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, c := range changes {
		from := "a/" + c.Path
		if _, tracked := snap.Get(c.Path); !tracked {
			from = "/dev/null"
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        terminated(c.Old),
			B:        terminated(c.New),
			FromFile: from,
			ToFile:   "b/" + c.Path,
			Context:  a.env.ContextLines(),
		})
		if err != nil {
			return "", fmt.Errorf("render %s: %w", c.Path, err)
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// terminated gives every line its newline, as difflib expects.
func terminated(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
