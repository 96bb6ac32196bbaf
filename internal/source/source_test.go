package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, text string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	go func() {
		_, _ = w.WriteString(text)
		_ = w.Close()
	}()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func noClipboard() (string, error) { return "", errors.New("no clipboard in tests") }

func TestContent_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.md")
	require.NoError(t, os.WriteFile(path, []byte("a\r\nb\r\n"), 0o644))

	p := New(WithStdin(pipe(t, "ignored")), WithClipboard(noClipboard))
	content, kind, err := p.Content(path)
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)
	assert.Equal(t, "a\nb\n", content)
}

func TestContent_PipedStdin(t *testing.T) {
	p := New(WithStdin(pipe(t, "from pipe\n")), WithClipboard(noClipboard))
	content, kind, err := p.Content("")
	require.NoError(t, err)
	assert.Equal(t, KindStdin, kind)
	assert.Equal(t, "from pipe\n", content)
}

func TestContent_DashReadsStdin(t *testing.T) {
	p := New(WithStdin(pipe(t, "dash\n")), WithClipboard(noClipboard))
	content, kind, err := p.Content("-")
	require.NoError(t, err)
	assert.Equal(t, KindStdin, kind)
	assert.Equal(t, "dash\n", content)
}

func TestContent_BlankIsEmpty(t *testing.T) {
	p := New(WithStdin(pipe(t, " \n\t\n")), WithClipboard(noClipboard))
	content, _, err := p.Content("")
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestContent_MissingFile(t *testing.T) {
	p := New(WithClipboard(noClipboard))
	_, kind, err := p.Content(filepath.Join(t.TempDir(), "absent.md"))
	require.Error(t, err)
	assert.Equal(t, KindFile, kind)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
