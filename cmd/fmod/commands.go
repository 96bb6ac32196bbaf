package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/sokinpui/fmod/fmod"
	"github.com/sokinpui/fmod/internal/fs"
	"github.com/sokinpui/fmod/internal/logging"
	"github.com/sokinpui/fmod/internal/nvim"
	"github.com/sokinpui/fmod/internal/source"
	"github.com/sokinpui/fmod/internal/tui"
	"github.com/sokinpui/fmod/internal/ui"
	"github.com/sokinpui/fmod/model"
)

var (
	diffPreview bool
	diffCommit  bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Apply an envelope or markdown reply",
	Long:  "Apply reads a file, '-' for stdin, piped stdin or the clipboard and commits every change it describes, or none of them.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readSource(args)
		if err != nil || content == "" {
			return err
		}
		return runOp(cmd, "Applying changes...", func(app *fmod.App, ctx context.Context) (model.Summary, error) {
			return app.ApplyText(ctx, content)
		})
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix [file]",
	Short: "Print the input as an envelope with corrected hunk headers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readSource(args)
		if err != nil || content == "" {
			return err
		}
		app, closeApp, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer closeApp()
		out, err := app.Fix(cmd.Context(), content)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff [paths...]",
	Short: "Print the envelope bringing the store up to the workspace",
	Long:  "Diff compares tracked files, or the given paths, with their last committed content and prints the bundle encoding the difference.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer closeApp()

		if diffPreview {
			out, err := app.Preview(args...)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.ColorizeDiff(out))
			return nil
		}

		b, err := app.Diff(cmd.Context(), args...)
		if err != nil {
			return err
		}
		if b.Len() == 0 {
			ui.Info("No changes.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), app.Envelope(b))
		if diffCommit {
			summary, err := app.Commit(cmd.Context(), b)
			if err != nil {
				return err
			}
			ui.Success("%s (%s)", summary.Message, b.Summary())
		}
		return nil
	},
}

var trackCmd = &cobra.Command{
	Use:   "track [paths...]",
	Short: "Record the workspace content of files in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer closeApp()
		summary, err := app.Track(cmd.Context(), args...)
		if err != nil {
			return err
		}
		ui.PrintSummary(summary)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List tracked files and the undo history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer closeApp()
		st, err := app.Status()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderStatus(st))
		return nil
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, "Undoing...", (*fmod.App).Undo)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Redo the last undone operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, "Redoing...", (*fmod.App).Redo)
	},
}

func init() {
	diffCmd.Flags().BoolVarP(&diffPreview, "preview", "p", false, "Show a conventional unified diff instead of the envelope.")
	diffCmd.Flags().BoolVar(&diffCommit, "commit", false, "Commit the printed bundle so the next diff starts from it.")
	diffCmd.MarkFlagsMutuallyExclusive("preview", "commit")
}

func readSource(args []string) (string, error) {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	content, kind, err := source.New().Content(path)
	if err != nil {
		return "", err
	}
	ui.Header("--- Reading from %s ---", kind)
	if content == "" {
		ui.Warning("Input is empty. Nothing to process.")
	}
	return content, nil
}

// openApp builds the App for cmd. publish connects Neovim when --nvim is
// set; commands that never publish skip it.
func openApp(cmd *cobra.Command, publish bool, progress fmod.ProgressUpdate) (*fmod.App, func(), error) {
	root := flags.Root
	if root == "" {
		var err error
		if root, err = fs.FindRoot(); err != nil {
			return nil, nil, err
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := flags.Settings(cmd.Flags(), root)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	opts := fmod.Options{
		Root:       root,
		Config:     &cfg,
		Logger:     logger,
		Extensions: flags.Extensions,
		FixHeaders: flags.FixHeaders,
		Progress:   progress,
	}

	closers := []func(){func() { _ = logger.Sync() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if publish && flags.Nvim {
		nvimOpts := []nvim.Option{nvim.WithLogger(logger)}
		if !flags.Buffer {
			nvimOpts = append(nvimOpts, nvim.WithSave())
		}
		if progress != nil {
			nvimOpts = append(nvimOpts, nvim.WithProgress(progress))
		}
		m, err := nvim.New(root, nvimOpts...)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, m.Close)
		opts.Publishers = []fmod.Publisher{m}
	}

	app, err := fmod.New(cmd.Context(), opts)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	closers = append(closers, func() { _ = app.Close() })
	return app, closeAll, nil
}

// runOp runs op behind the spinner, or with a plain progress bar when
// animation is off, and shows its summary.
func runOp(cmd *cobra.Command, title string, op func(*fmod.App, context.Context) (model.Summary, error)) error {
	task := func(report func(done, total int)) (summary model.Summary, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("internal panic: %v\n%s", r, debug.Stack())
			}
		}()
		app, closeApp, err := openApp(cmd, true, report)
		if err != nil {
			return model.Summary{}, err
		}
		defer closeApp()
		return op(app, cmd.Context())
	}

	if flags.NoAnimation {
		bar := ui.NewProgressBar(0, title)
		drawn := false
		summary, err := task(func(done, total int) {
			drawn = drawn || total > 0
			bar.Set(done, total)
		})
		if drawn {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		ui.PrintSummary(summary)
		return nil
	}

	_, err := tui.Run(title, task)
	return err
}
