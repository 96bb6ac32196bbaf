package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("PROJECT_DIR", "/srv/app")
	path := writeConfig(t, `
work_dir: ${PROJECT_DIR}
context_lines: 1
tie_break: diff
log:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", cfg.WorkDir)
	assert.Equal(t, 1, cfg.ContextLines)
	assert.Equal(t, "diff", cfg.TieBreak)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, DefaultTagName, cfg.TagName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FMOD_WORK_DIR", "/workspace")
	t.Setenv("FMOD_LOG_LEVEL", "INFO")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/workspace", cfg.WorkDir)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"relative work dir": "work_dir: project\n",
		"negative context":  "context_lines: -1\n",
		"unknown tie break": "tie_break: smaller\n",
		"bad tag name":      "tag_name: \"file mods\"\n",
		"bad level":         "log:\n  level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "work_dir: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("/repo", ".fmod"), cfg.StatePath("/repo"))
	assert.Equal(t, filepath.Join("/repo", ".fmod", "files.db"), cfg.DatabasePath("/repo"))

	cfg.Database = ""
	assert.Empty(t, cfg.DatabasePath("/repo"))

	cfg.StateDir = "/var/lib/fmod"
	assert.Equal(t, "/var/lib/fmod", cfg.StatePath("/repo"))
}

func TestEnvironment(t *testing.T) {
	env := Default().Environment()
	assert.Equal(t, "/home/project", env.WorkDir())
	assert.Equal(t, DefaultTagName, env.TagName())
	assert.Equal(t, 3, env.ContextLines())
	assert.Equal(t, TieBreakFullFile, env.TieBreak())
	assert.Equal(t, "/home/project/src/main.ts", env.Abs("src/main.ts"))

	cases := []struct {
		in  string
		rel string
		ok  bool
	}{
		{"/home/project/src/main.ts", "src/main.ts", true},
		{"/home/project/./src/../package.json", "package.json", true},
		{"src/main.ts", "src/main.ts", true},
		{"/etc/passwd", "", false},
		{"/home/projectx/a", "", false},
		{"../outside", "", false},
		{"/home/project", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		rel, ok := env.Rel(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.rel, rel, tc.in)
	}
}

func TestNewEnvironmentNormalizes(t *testing.T) {
	env := NewEnvironment("home/project/", "", -4, "other")
	assert.Equal(t, "/home/project", env.WorkDir())
	assert.Equal(t, DefaultTagName, env.TagName())
	assert.Equal(t, 0, env.ContextLines())
	assert.Equal(t, TieBreakFullFile, env.TieBreak())
}
