// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// =============================================================================
// VERSION INFORMATION
// =============================================================================

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// skipLoad marks commands that run without a config.
const skipLoad = "skip-load"

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the threadline command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "threadline",
		Short: "Stream chat answers from a language model into stored conversations",
		Long: `threadline sends messages to a chat model, streams the answer into a
conversation as it arrives, and stores every conversation locally.

Run "threadline chat" for an interactive session or "threadline serve" to
expose conversations over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipLoad] != "" {
				return nil
			}
			return app.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.ConfigPath, "config", "", "config file (default ~/.threadline/config.toml)")
	flags.StringVar(&app.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&app.Provider, "provider", "", "provider: openai, ollama, relay")
	flags.StringVarP(&app.Model, "model", "m", "", "model name")
	flags.StringVar(&app.Storage, "storage", "", "storage driver: sqlite, badger, file, memory")
	flags.BoolVar(&app.JSON, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newChatCommand(app),
		newAskCommand(app),
		newRetryCommand(app),
		newHistoryCommand(app),
		newExportCommand(app),
		newImportCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return root
}

// Run executes the command tree with args and closes the app afterwards.
func Run(ctx context.Context, app *App, args []string) error {
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	err := root.ExecuteContext(ctx)
	if cerr := app.Close(); err == nil {
		err = cerr
	}
	return err
}

// Execute runs the CLI with the process arguments and exits non-zero on
// error.
func Execute() {
	app := NewApp()
	if err := Run(context.Background(), app, os.Args[1:]); err != nil {
		fmt.Fprintln(app.Err, paint(ErrorStyle, "Error: ")+err.Error())
		os.Exit(1)
	}
}

// =============================================================================
// VERSION COMMAND
// =============================================================================

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.JSON {
				return writeJSON(app.Out, map[string]string{
					"version":    Version,
					"git_commit": GitCommit,
					"build_date": BuildDate,
					"go":         runtime.Version(),
				})
			}
			fmt.Fprintf(app.Out, "threadline %s\n", Version)
			printField(app.Out, "Commit:", GitCommit)
			printField(app.Out, "Built:", BuildDate)
			printField(app.Out, "Go:", runtime.Version())
			printField(app.Out, "Platform:", runtime.GOOS+"/"+runtime.GOARCH)
			return nil
		},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
