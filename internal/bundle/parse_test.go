package bundle

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
	"github.com/sokinpui/fmod/internal/errs"
)

var env = config.DefaultEnvironment()

const example = `Some text before the envelope.
<bolt_file_modifications>
<diff path="/home/project/src/main.js" revision="3">
@@ -2,3 +2,3 @@
 function add(a, b) {
-  return a - b;
+  return a + b;
 }
</diff>
<file path="/home/project/package.json" revision="0">
{
  "name": "demo"
}
</file>
</bolt_file_modifications>
And some text after it.
`

func TestParse_Example(t *testing.T) {
	b, err := Parse(env, example)
	require.NoError(t, err)
	require.Equal(t, []string{"src/main.js", "package.json"}, b.Paths())
	assert.Equal(t, int64(3), b.Base("src/main.js"))
	assert.Equal(t, int64(0), b.Base("package.json"))

	d := b.Entries[0]
	assert.Equal(t, KindDiff, d.Kind)
	require.Len(t, d.Hunks, 1)
	assert.Equal(t, "@@ -2,3 +2,3 @@", d.Hunks[0].Header())
	assert.Equal(t, []diff.Line{
		{Op: diff.OpContext, Text: "function add(a, b) {"},
		{Op: diff.OpRemove, Text: "  return a - b;"},
		{Op: diff.OpAdd, Text: "  return a + b;"},
		{Op: diff.OpContext, Text: "}"},
	}, d.Hunks[0].Lines)

	f := b.Entries[1]
	assert.Equal(t, KindFullFile, f.Kind)
	assert.Equal(t, []string{"{", `  "name": "demo"`, "}"}, f.Lines)
}

func TestParse_UnprefixedLinesAreContext(t *testing.T) {
	b, err := Parse(env, `<bolt_file_modifications>
<diff path="a.txt">
@@ -1,3 +1,3 @@
keep

-old
+new
\ No newline at end of file
</diff>
</bolt_file_modifications>`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Base("a.txt"), "missing revision means 0")
	assert.Equal(t, []diff.Line{
		{Op: diff.OpContext, Text: "keep"},
		{Op: diff.OpContext, Text: ""},
		{Op: diff.OpRemove, Text: "old"},
		{Op: diff.OpAdd, Text: "new"},
	}, b.Entries[0].Hunks[0].Lines)
}

func TestParse_TrailingBlankLinesAfterLastHunk(t *testing.T) {
	b, err := Parse(env, "<bolt_file_modifications>\n<diff path=\"a\" revision=\"1\">\n@@ -1,1 +1,1 @@\n-a\n+b\n\n\n</diff>\n</bolt_file_modifications>\n")
	require.NoError(t, err)
	assert.Len(t, b.Entries[0].Hunks[0].Lines, 2)
}

func TestParse_CRLFInput(t *testing.T) {
	in := strings.ReplaceAll(example, "\n", "\r\n")
	b, err := Parse(env, in)
	require.NoError(t, err)
	assert.Equal(t, "  return a + b;", b.Entries[0].Hunks[0].Lines[2].Text)
}

func TestParse_FileBodyIsVerbatim(t *testing.T) {
	b, err := Parse(env, `<bolt_file_modifications>
<file path="notes.md" revision="2">
@@ not a header @@
+ not an addition
 indented

</file>
<file path="empty.txt">
</file>
</bolt_file_modifications>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"@@ not a header @@", "+ not an addition", " indented", ""}, b.Entries[0].Lines)
	assert.Empty(t, b.Entries[1].Lines)
}

func TestParse_Errors(t *testing.T) {
	wrap := func(body string) string {
		return "<bolt_file_modifications>\n" + body + "</bolt_file_modifications>\n"
	}
	diffBlock := func(body string) string {
		return wrap("<diff path=\"/home/project/a.txt\" revision=\"1\">\n" + body + "</diff>\n")
	}
	cases := map[string]string{
		"no envelope":           "just text\n",
		"unterminated env":      "<bolt_file_modifications>\n<file path=\"a\">\nx\n</file>\n",
		"unterminated block":    "<bolt_file_modifications>\n<file path=\"a\">\nx\n",
		"unknown block":         wrap("<patch path=\"a\">\n</patch>\n"),
		"stray text":            wrap("hello\n"),
		"missing path":          wrap("<file revision=\"1\">\n</file>\n"),
		"outside workdir":       wrap("<file path=\"/etc/passwd\">\n</file>\n"),
		"escaping path":         wrap("<file path=\"../x\">\n</file>\n"),
		"bad revision":          wrap("<file path=\"a\" revision=\"x\">\n</file>\n"),
		"negative revision":     wrap("<file path=\"a\" revision=\"-1\">\n</file>\n"),
		"duplicate path":        wrap("<file path=\"a\">\n</file>\n<diff path=\"/home/project/a\">\n@@ -1,1 +1,1 @@\n-a\n+b\n</diff>\n"),
		"empty diff":            diffBlock(""),
		"body before header":    diffBlock("-a\n@@ -1,1 +1,1 @@\n-a\n+b\n"),
		"filename headers":      diffBlock("--- a/a.txt\n+++ b/a.txt\n@@ -1,1 +1,1 @@\n-a\n+b\n"),
		"header without count":  diffBlock("@@ -1 +1 @@\n-a\n+b\n"),
		"header without close":  diffBlock("@@ -1,1 +1,1\n-a\n+b\n"),
		"header not numeric":    diffBlock("@@ -a,1 +1,1 @@\n-a\n+b\n"),
		"header extra space":    diffBlock("@@  -1,1 +1,1 @@\n-a\n+b\n"),
		"header trailing @":     diffBlock("@@ -1,1 +1,1 @@@\n-a\n+b\n"),
		"bare @@":               diffBlock("@@ @@\n-a\n+b\n"),
		"header with heading":   diffBlock("@@ -1,1 +1,1 @@ func main\n-a\n+b\n"),
		"header trailing space": diffBlock("@@ -1,1 +1,1 @@ \n-a\n+b\n"),
		"count too high":        diffBlock("@@ -1,2 +1,1 @@\n-a\n+b\n"),
		"count too low":         diffBlock("@@ -1,1 +1,1 @@\n a\n-b\n+c\n"),
		"overlapping hunks":     diffBlock("@@ -1,2 +1,2 @@\n a\n-b\n+B\n@@ -2,1 +2,1 @@\n-b\n+c\n"),
		"descending hunks":      diffBlock("@@ -5,1 +5,1 @@\n-e\n+E\n@@ -1,1 +1,1 @@\n-a\n+A\n"),
		"inconsistent offset":   diffBlock("@@ -1,1 +1,2 @@\n-a\n+b\n+c\n@@ -5,1 +5,1 @@\n-e\n+E\n"),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(env, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrParse)
		})
	}
}

func TestEnvelope(t *testing.T) {
	p := NewParser(env)

	start, end, ok := p.Envelope(example)
	require.True(t, ok)
	assert.Equal(t, "Some text before the envelope.\n", example[:start])
	assert.Equal(t, "And some text after it.\n", example[end:])

	// A closing envelope tag inside a file body does not end the envelope.
	in := "<bolt_file_modifications>\n<file path=\"a\">\n</bolt_file_modifications>\n</file>\n</bolt_file_modifications>\ntail"
	_, end, ok = p.Envelope(in)
	require.True(t, ok)
	assert.Equal(t, "tail", in[end:])

	_, _, ok = p.Envelope("mentions <bolt_file_modifications> inline\n")
	assert.False(t, ok)
	_, err := p.Parse("mentions <bolt_file_modifications> inline\n")
	assert.ErrorIs(t, err, errs.ErrParse)
}

func TestParse_ErrorLocation(t *testing.T) {
	_, err := Parse(env, "<bolt_file_modifications>\n<diff path=\"src/a.ts\" revision=\"2\">\n@@ -1,1 +1,1 @@\n-a\n+b\n@@ -9,9 @@\n</diff>\n</bolt_file_modifications>\n")
	var pe *errs.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "src/a.ts", pe.Path)
	assert.Equal(t, 6, pe.Line)
}

func TestParse_CustomTag(t *testing.T) {
	custom := config.NewEnvironment("/workspace", "changes", 3, config.TieBreakFullFile)
	b, err := Parse(custom, "<changes>\n<file path=\"/workspace/x\" revision=\"4\">\ny\n</file>\n</changes>\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, b.Paths())

	_, err = Parse(custom, example)
	assert.ErrorIs(t, err, errs.ErrParse)
}

func TestParse_Lenient(t *testing.T) {
	in := `<bolt_file_modifications>
<diff path="main.go">
--- a/main.go
+++ b/main.go
@@ -40,9 +40,9 @@ func main
 func main() {
-	println("Hello, World!")
+	println("Hello, Bolt!")
 }
@@ @@
-x
+y
+z
</diff>
</bolt_file_modifications>`
	_, err := Parse(env, in)
	require.ErrorIs(t, err, errs.ErrParse)

	b, err := NewParser(env, Lenient()).Parse(in)
	require.NoError(t, err)
	hunks := b.Entries[0].Hunks
	require.Len(t, hunks, 2)
	assert.Equal(t, 3, hunks[0].OrigCount)
	assert.Equal(t, 3, hunks[0].ModCount)
	assert.Equal(t, 40, hunks[0].OrigStart)
	assert.Equal(t, 1, hunks[1].OrigCount)
	assert.Equal(t, 2, hunks[1].ModCount)
}

func TestSerialize_Format(t *testing.T) {
	b := Bundle{
		Entries: []Entry{
			DiffEntry("src/main.ts", []diff.Hunk{{
				OrigStart: 2, OrigCount: 1, ModStart: 2, ModCount: 1,
				Lines: []diff.Line{{Op: diff.OpRemove, Text: "b"}, {Op: diff.OpAdd, Text: "x"}},
			}}),
			FileEntry("say \"hi\".txt", []string{"hi"}),
		},
		BaseRevision: map[string]int64{"src/main.ts": 3},
	}
	want := `<bolt_file_modifications>
<diff path="/home/project/src/main.ts" revision="3">
@@ -2,1 +2,1 @@
-b
+x
</diff>
<file path="/home/project/say &quot;hi&quot;.txt" revision="0">
hi
</file>
</bolt_file_modifications>
`
	assert.Equal(t, want, Serialize(env, b))
}

func TestSerializeParse_RoundTrip(t *testing.T) {
	old := map[string][]string{
		"src/app.ts": numbered(40),
		"README.md":  {"# demo"},
		"blank.txt":  {""},
	}
	updated := append(numbered(40)[:10:10], append([]string{"", "  inserted", "@@ looks like a header"}, numbered(40)[12:]...)...)
	changes := []Change{
		{Path: "src/app.ts", Old: old["src/app.ts"], New: updated, BaseRevision: 7},
		{Path: "README.md", Old: old["README.md"], New: []string{"# demo", "", "more"}, BaseRevision: 1},
		{Path: "blank.txt", Old: nil, New: []string{""}},
		{Path: "new/dir/file.go", Old: nil, New: []string{"package dir", "", "+not a diff line"}},
	}
	b, err := NewProducer(env).Build(t.Context(), changes)
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	got, err := Parse(env, Serialize(env, b))
	require.NoError(t, err)
	if d := cmp.Diff(b, got, cmpopts.EquateEmpty()); d != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", d)
	}
}

func TestParseDiff(t *testing.T) {
	text := "--- a/main.go\n+++ b/main.go\n@@ -1,2 +1,2 @@\n package main\n-var x = 1\n+var x = 2\n"
	hunks, err := NewParser(env).ParseDiff("main.go", text)
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, "@@ -1,2 +1,2 @@", hunks[0].Header())

	_, err = NewParser(env).ParseDiff("main.go", "+++ b/main.go\n@@ -1 +1 @@\n-a\n+b\n")
	assert.ErrorIs(t, err, errs.ErrParse)

	hunks, err = NewParser(env, Lenient()).ParseDiff("main.go", "+++ b/main.go\n@@ -1 +1 @@\n-a\n+b\n")
	require.NoError(t, err)
	assert.Equal(t, 1, hunks[0].OrigCount)

	hunks, err = NewParser(env).ParseDiff("main.go", "@@ -3,1 +3,1 @@ func main() {\n-a\n+b\n")
	require.NoError(t, err)
	assert.Equal(t, "@@ -3,1 +3,1 @@", hunks[0].Header())
}

func TestSerializeParse_CarriageReturnInsideLine(t *testing.T) {
	b := Bundle{
		Entries: []Entry{
			FileEntry("a.txt", []string{"x\ry", "z"}),
			DiffEntry("b.txt", []diff.Hunk{{
				OrigStart: 1, OrigCount: 2, ModStart: 1, ModCount: 2,
				Lines: []diff.Line{{Op: diff.OpContext, Text: "keep\r"}, {Op: diff.OpRemove, Text: "p\rq"}, {Op: diff.OpAdd, Text: "p\r\rq"}},
			}}),
		},
		BaseRevision: map[string]int64{"a.txt": 1, "b.txt": 2},
	}
	got, err := Parse(env, Serialize(env, b))
	require.NoError(t, err)
	assert.Equal(t, []string{"x\ry", "z"}, got.Entries[0].Lines)
	if d := cmp.Diff(b, got, cmpopts.EquateEmpty()); d != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", d)
	}
}
