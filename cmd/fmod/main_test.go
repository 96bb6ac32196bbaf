package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/fmod/internal/ui"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestCommands(t *testing.T) {
	prev := ui.Output
	ui.Output = io.Discard
	t.Cleanup(func() { ui.Output = prev })

	root := t.TempDir()
	reply := filepath.Join(t.TempDir(), "reply.md")
	require.NoError(t, os.WriteFile(reply, []byte("Create `app/main.go`:\n\n```go\npackage main\n\nfunc main() {}\n```\n"), 0o644))

	run(t, "apply", reply, "--root", root, "--no-animation")
	data, err := os.ReadFile(filepath.Join(root, "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(data))

	assert.Contains(t, run(t, "status", "--root", root), "app/main.go r1")

	run(t, "undo", "--root", root, "--no-animation")
	assert.Contains(t, run(t, "status", "--root", root), "(undone)")
	run(t, "redo", "--root", root, "--no-animation")
	assert.Contains(t, run(t, "status", "--root", root), "app/main.go r3")

	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "main.go"), []byte("package main\n\nfunc main() { println() }\n"), 0o644))
	envelope := run(t, "diff", "--root", root)
	assert.Contains(t, envelope, `path="/home/project/app/main.go" revision="3"`)

	run(t, "track", "--root", root)
	assert.Contains(t, run(t, "status", "--root", root), "app/main.go r4")
}
