package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sokinpui/fmod/cli"
	"github.com/sokinpui/fmod/internal/tui"
	"github.com/sokinpui/fmod/internal/ui"
)

var flags cli.Config

var rootCmd = &cobra.Command{
	Use:   "fmod",
	Short: "Apply file-modification bundles to a workspace",
	Long: `fmod keeps a revisioned copy of the files in a workspace and applies
bundles of edits to it atomically. A bundle is either an envelope of <diff>
and <file> blocks or a markdown reply with fenced code blocks and diffs.

Content is read from a file argument, from stdin when piped, or from the
clipboard. Every applied bundle can be undone and redone.

Example: pbpaste | fmod apply -e py`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return flags.Normalize()
	},
}

func init() {
	flags.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(applyCmd, fixCmd, diffCmd, trackCmd, statusCmd, undoCmd, redoCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var shown *tui.ShownError
		if !errors.As(err, &shown) {
			ui.Error("Error: %v", err)
		}
		os.Exit(1)
	}
}
