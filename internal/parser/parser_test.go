package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
	"github.com/sokinpui/fmod/internal/store"
)

var env = config.DefaultEnvironment()

func snapshot(t *testing.T, files map[string][]string) *store.Snapshot {
	t.Helper()
	s := store.New()
	var updates []store.Update
	for p, lines := range files {
		updates = append(updates, store.Update{Path: p, Lines: lines})
	}
	_, err := s.Commit(context.Background(), nil, updates)
	require.NoError(t, err)
	return s.Snapshot()
}

func TestExtractCodeBlocks(t *testing.T) {
	src := "Intro.\n\nUpdate `src/app.ts`:\n\n```ts title=app\nconst a = 1;\n```\n\n```diff\n-a\n+b\n```\n"
	blocks, err := ExtractCodeBlocks([]byte(src))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, CodeBlock{Hint: "Update `src/app.ts`:", Lang: "ts", Content: "const a = 1;\n"}, blocks[0])
	assert.Equal(t, "diff", blocks[1].Lang)
	assert.Empty(t, blocks[1].Hint)
}

func TestParse_FileAndDiffBlocks(t *testing.T) {
	snap := snapshot(t, map[string][]string{"main.go": {"package main", "var x = 1"}})
	src := "Here is the fix.\n\n" +
		"```diff\n--- a/main.go\n+++ b/main.go\n@@ -1,2 +1,2 @@\n package main\n-var x = 1\n+var x = 2\n```\n\n" +
		"And a new file `README.md`\n\n```markdown\n# Title\n\ntext\n```\n\n" +
		"Run `go run main.go` to try it:\n\n```sh\ngo run main.go\n```\n"

	b, err := New(env).Parse(src, snap)
	require.NoError(t, err)
	require.Equal(t, []string{"main.go", "README.md"}, b.Paths())
	assert.Equal(t, int64(1), b.Base("main.go"))
	assert.Equal(t, int64(0), b.Base("README.md"))
	assert.Equal(t, bundle.KindDiff, b.Entries[0].Kind)
	assert.Equal(t, []diff.Line{
		{Op: diff.OpContext, Text: "package main"},
		{Op: diff.OpRemove, Text: "var x = 1"},
		{Op: diff.OpAdd, Text: "var x = 2"},
	}, b.Entries[0].Hunks[0].Lines)
	assert.Equal(t, []string{"# Title", "", "text"}, b.Entries[1].Lines)
}

func TestParse_Precedence(t *testing.T) {
	snap := snapshot(t, map[string][]string{"a.txt": {"x"}})
	src := "<bolt_file_modifications>\n<file path=\"/home/project/a.txt\" revision=\"1\">\nfrom envelope\n```\nnot a fence\n```\n</file>\n</bolt_file_modifications>\n\n" +
		"`a.txt`\n\n```\nfrom markdown\n```\n\n" +
		"`b.txt`\n\n```diff\n@@ -0,0 +1,1 @@\n+from diff\n```\n\n" +
		"`b.txt`\n\n```\nfrom file block\n```\n"

	b, err := New(env).Parse(src, snap)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt"}, b.Paths())
	assert.Equal(t, []string{"from envelope", "```", "not a fence", "```"}, b.Entries[0].Lines)
	assert.Equal(t, bundle.KindFullFile, b.Entries[1].Kind)
	assert.Equal(t, []string{"from file block"}, b.Entries[1].Lines)
	require.NoError(t, b.Validate())
}

func TestParse_InlineTagMentionIsNotAnEnvelope(t *testing.T) {
	src := "Reply inside <bolt_file_modifications> next time.\n\n`a.txt`\n\n```\nhello\n```\n"
	b, err := New(env).Parse(src, store.New().Snapshot())
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, b.Paths())
	assert.Equal(t, []string{"hello"}, b.Entries[0].Lines)
}

func TestParse_Extensions(t *testing.T) {
	src := "`a.go`\n\n```go\npackage a\n```\n\n`b.md`\n\n```\n# b\n```\n"
	b, err := New(env, WithExtensions(".go")).Parse(src, store.New().Snapshot())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, b.Paths())
}

func TestParse_MalformedDiff(t *testing.T) {
	src := "```diff\n+++ b/a.txt\n@@ -1 +1 @@\n-a\n+b\n```\n"
	_, err := New(env).Parse(src, store.New().Snapshot())
	assert.ErrorIs(t, err, errs.ErrParse)

	b, err := New(env, WithLenientHeaders()).Parse(src, store.New().Snapshot())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, b.Paths())
}

func TestParse_NothingToApply(t *testing.T) {
	b, err := New(env).Parse("Just prose, `no/blocks`.", store.New().Snapshot())
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestExtractPathFromDiff(t *testing.T) {
	cases := map[string]string{
		"--- a/x.go\n+++ b/x.go\n@@ -1,1 +1,1 @@\n": "x.go",
		"--- a/old.go\n+++ /dev/null\n":             "old.go",
		"--- /dev/null\n+++ b/new.go\t2024-01-01\n": "new.go",
		"@@ -1,1 +1,1 @@\n-a\n+b\n":                  "",
		"@@ -1,1 +1,1 @@\n--- a/x\n":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractPathFromDiff(in), in)
	}
}
