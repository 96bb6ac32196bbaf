// Package config loads fmod settings from an optional YAML file, applies
// environment overrides and validates the result. The protocol-facing part
// is exposed as an immutable Environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkDir is the directory envelope paths are rooted at.
	DefaultWorkDir = "/home/project"
	// DefaultTagName is the element wrapping a bundle envelope.
	DefaultTagName = "bolt_file_modifications"
	// DefaultStateDir holds the journal, blobs, database and config file.
	DefaultStateDir = ".fmod"
	// FileName is the config file looked up inside the state directory.
	FileName = "config.yaml"
)

// Config is the full set of settings.
type Config struct {
	// WorkDir is the absolute directory paths in envelopes are relative to.
	WorkDir string `yaml:"work_dir" validate:"required,startswith=/"`
	// TagName names the envelope element.
	TagName string `yaml:"tag_name" validate:"required,tagname"`
	// ContextLines pads every hunk; 0 disables context.
	ContextLines int `yaml:"context_lines" validate:"gte=0,lte=1000"`
	// TieBreak picks the encoding when diff and full file are the same size.
	TieBreak string `yaml:"tie_break" validate:"oneof=file diff"`
	// Parallelism bounds per-file workers; 0 means GOMAXPROCS.
	Parallelism int `yaml:"parallelism" validate:"gte=0"`
	// StateDir is relative to the workspace root unless absolute.
	StateDir string `yaml:"state_dir" validate:"required"`
	// Database is the SQLite file inside StateDir; empty keeps the store in memory.
	Database string `yaml:"database"`

	Log LogConfig `yaml:"log"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		WorkDir:      DefaultWorkDir,
		TagName:      DefaultTagName,
		ContextLines: 3,
		TieBreak:     string(TieBreakFullFile),
		StateDir:     DefaultStateDir,
		Database:     "files.db",
		Log:          LogConfig{Level: "warn"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// ${VAR} references are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets FMOD_* variables win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FMOD_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("FMOD_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FMOD_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}

var (
	validate  = newValidator()
	tagNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("tagname", func(fl validator.FieldLevel) bool {
		return tagNameRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StatePath resolves the state directory against the workspace root.
func (c Config) StatePath(root string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(root, c.StateDir)
}

// DatabasePath is the SQLite file, or "" for an in-memory store.
func (c Config) DatabasePath(root string) string {
	if c.Database == "" {
		return ""
	}
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.StatePath(root), c.Database)
}

// Environment derives the immutable protocol settings.
func (c Config) Environment() Environment {
	return NewEnvironment(c.WorkDir, c.TagName, c.ContextLines, TieBreak(c.TieBreak))
}
