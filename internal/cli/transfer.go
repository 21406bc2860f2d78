// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/export"
	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// EXPORT COMMAND
// =============================================================================

// exportConversation writes conv to a new file in dir.
func exportConversation(conv *model.Conversation, format export.Format, dir string) (string, error) {
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	exp, err := export.NewExporter(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(conv, exp, opts)
}

func newExportCommand(app *App) *cobra.Command {
	var (
		format    string
		dir       string
		stdout    bool
		noNotices bool
		open      bool
	)
	cmd := &cobra.Command{
		Use:   "export <conversation>",
		Short: "Export a conversation to a file",
		Long: `Export a conversation as markdown, transcript, JSON, OpenAI messages or YAML.

The file is written to --dir with a name built from the title and the
current time. With --stdout the export is printed instead.`,
		Example: `  threadline export 3f2a
  threadline export 3f2a -f json --dir ~/exports
  threadline export 3f2a -f openai --stdout > messages.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			s, err := app.conversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			conv := s.Snapshot()

			opts := export.DefaultOptions()
			opts.IncludeNotices = !noNotices
			opts.OpenAfterExport = open
			if dir != "" {
				opts.OutputDir = dir
			}
			exp, err := export.NewExporter(f, opts)
			if err != nil {
				return err
			}

			if stdout {
				data, err := exp.Export(conv)
				if err != nil {
					return err
				}
				_, err = app.Out.Write(data)
				return err
			}
			path, err := export.ExportToFile(conv, exp, opts)
			if err != nil {
				return err
			}
			if app.JSON {
				return writeJSON(app.Out, map[string]string{"path": path, "format": string(f)})
			}
			fmt.Fprintln(app.Out, paint(SuccessStyle, "Exported to "+path))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatMarkdown), fmt.Sprintf("export format %v", export.Formats()))
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default current directory)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the export instead of writing a file")
	cmd.Flags().BoolVar(&noNotices, "no-notices", false, "leave out information and error messages")
	cmd.Flags().BoolVar(&open, "open", false, "open the file after exporting")
	return cmd
}

// =============================================================================
// IMPORT COMMAND
// =============================================================================

func newImportCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a conversation from a file",
		Long: `Import a transcript, JSON, OpenAI messages or YAML file as a new
conversation. The format is taken from the file extension unless --format
is given; "-" reads stdin and requires --format.`,
		Example: `  threadline import chat.json
  threadline import notes.txt
  cat messages.json | threadline import - -f openai`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := readImport(app.In, args[0], format)
			if err != nil {
				return err
			}
			e, err := app.Open()
			if err != nil {
				return err
			}
			s, err := e.Manager.Import(cmd.Context(), conv)
			if err != nil {
				return err
			}
			snap := s.Snapshot()
			if app.JSON {
				return writeJSON(app.Out, snap.Meta())
			}
			fmt.Fprintf(app.Out, "%s %s (%d messages)\n",
				paint(SuccessStyle, "Imported"), snap.ID, len(snap.Messages))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "input format (default from the file extension)")
	return cmd
}

// readImport parses path, or stdin for "-".
func readImport(stdin io.Reader, path, format string) (*model.Conversation, error) {
	if format == "" {
		if path == "-" {
			return nil, fmt.Errorf("--format is required when reading stdin")
		}
		return export.ImportFile(path)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	importer, err := export.NewImporter(f)
	if err != nil {
		return nil, err
	}
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return importer.Import(data)
}
