package fmod

import (
	"context"
	"fmt"

	"github.com/sokinpui/fmod/internal/bundle"
	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/textutil"
	"github.com/sokinpui/fmod/model"
)

// Apply parses content and applies it to the workspace at root, as the
// fmod command does. The summary lists what was created and modified.
func Apply(ctx context.Context, root, content string) (model.Summary, error) {
	app, err := New(ctx, Options{Root: root})
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize fmod app: %w", err)
	}
	defer app.Close()
	return app.ApplyText(ctx, content)
}

// Encode returns the envelope that turns before into after for path, under
// the default environment and with base revision 0. It returns "" when the
// contents are equal.
func Encode(ctx context.Context, path, before, after string) (string, error) {
	env := config.DefaultEnvironment()
	b, err := bundle.Build(ctx, env, []bundle.Change{{Path: path, Old: textLines(before), New: textLines(after)}})
	if err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", nil
	}
	return bundle.Serialize(env, b), nil
}

func textLines(text string) []string {
	return textutil.SplitLines(text)
}
