// Package cli holds the command-line flags shared by every fmod command and
// merges them over the config file.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sokinpui/fmod/internal/config"
)

// Config holds all the command-line flag values.
type Config struct {
	Root        string
	ConfigFile  string
	LogLevel    string
	LogJSON     bool
	Context     int
	TieBreak    string
	NoAnimation bool
	Extensions  []string
	FixHeaders  bool
	Nvim        bool
	Buffer      bool
}

// BindFlags defines the flags on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Root, "root", "C", "", "Workspace root (default: the enclosing git repository or the current directory).")
	fs.StringVar(&c.ConfigFile, "config", "", "Config file (default: <root>/.fmod/config.yaml).")
	fs.StringVar(&c.LogLevel, "log-level", "", "Log level: debug, info, warn or error.")
	fs.BoolVar(&c.LogJSON, "log-json", false, "Log as JSON.")
	fs.IntVar(&c.Context, "context", 3, "Context lines around each produced hunk.")
	fs.StringVar(&c.TieBreak, "tie-break", string(config.TieBreakFullFile), "Encoding when a diff is as long as the file: 'file' or 'diff'.")
	fs.BoolVar(&c.NoAnimation, "no-animation", false, "Disable loading spinner and progress updates.")
	fs.StringSliceVarP(&c.Extensions, "extension", "e", []string{}, "Only take markdown code blocks for files with these extensions (e.g., 'py', 'js').")
	fs.BoolVar(&c.FixHeaders, "fix-headers", false, "Re-anchor diff hunks whose line numbers drifted instead of rejecting them.")
	fs.BoolVar(&c.Nvim, "nvim", false, "Publish changes through Neovim buffers instead of writing files directly.")
	fs.BoolVarP(&c.Buffer, "buffer", "b", false, "Update buffers in Neovim without saving them to disk (implies --nvim).")
}

// Normalize fixes up values after parsing.
func (c *Config) Normalize() error {
	if c.Context < 0 {
		return fmt.Errorf("--context must not be negative, got %d", c.Context)
	}
	if c.Buffer {
		c.Nvim = true
	}
	for i, ext := range c.Extensions {
		if len(ext) > 0 && ext[0] != '.' {
			c.Extensions[i] = "." + ext
		}
	}
	return nil
}

// Settings loads the config file for root and applies the flags that were
// set explicitly on fs over it.
func (c *Config) Settings(fs *pflag.FlagSet, root string) (config.Config, error) {
	path := c.ConfigFile
	if path == "" {
		path = filepath.Join(root, config.DefaultStateDir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if fs.Changed("context") {
		cfg.ContextLines = c.Context
	}
	if fs.Changed("tie-break") {
		cfg.TieBreak = c.TieBreak
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = strings.ToLower(c.LogLevel)
	}
	if fs.Changed("log-json") {
		cfg.Log.JSON = c.LogJSON
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
