// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/storage"
)

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func newHistoryCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"ls", "list"},
		Short:   "List stored conversations",
		Example: `  threadline history
  threadline history --limit 5
  threadline history show 3f2a
  threadline history search paris
  threadline history delete 3f2a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.Open()
			if err != nil {
				return err
			}
			metas, err := e.Manager.List(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(metas) > limit {
				metas = metas[:limit]
			}
			return app.printMetas(metas)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many conversations")

	cmd.AddCommand(
		newHistoryShowCommand(app),
		newHistorySearchCommand(app),
		newHistoryDeleteCommand(app),
	)
	return cmd
}

func newHistoryShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.conversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			conv := s.Snapshot()
			if app.JSON {
				return writeJSON(app.Out, conv)
			}
			printInfo(app.Out, conv)
			for _, msg := range conv.Messages {
				fmt.Fprintln(app.Out)
				printMessage(app.Out, msg, terminalWidth(app.Out))
			}
			return nil
		},
	}
}

func newHistorySearchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Find conversations by title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.Open()
			if err != nil {
				return err
			}
			convs, err := e.Store.FetchConversations(cmd.Context(), storage.TitleContains(args[0]))
			if err != nil {
				return err
			}
			metas := make([]model.ConversationMeta, 0, len(convs))
			for _, c := range convs {
				metas = append(metas, c.Meta())
			}
			return app.printMetas(metas)
		},
	}
}

func newHistoryDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <conversation>...",
		Aliases: []string{"rm"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := app.Open()
			if err != nil {
				return err
			}
			for _, arg := range args {
				s, err := app.conversation(ctx, arg)
				if err != nil {
					return err
				}
				id := s.ID()
				if err := e.Manager.Delete(ctx, id); err != nil {
					return err
				}
				if !app.JSON {
					fmt.Fprintln(app.Out, paint(SuccessStyle, "Deleted ")+id)
				}
			}
			if app.JSON {
				return writeJSON(app.Out, map[string]int{"deleted": len(args)})
			}
			return nil
		},
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

// printMetas writes a conversation table, or JSON.
func (a *App) printMetas(metas []model.ConversationMeta) error {
	if a.JSON {
		if metas == nil {
			metas = []model.ConversationMeta{}
		}
		return writeJSON(a.Out, metas)
	}
	if len(metas) == 0 {
		fmt.Fprintln(a.Out, paint(DimStyle, "No conversations yet. Start one with: threadline chat"))
		return nil
	}

	width := terminalWidth(a.Out)
	titleWidth := max(width-8-6-12-6, 20)
	fmt.Fprintf(a.Out, "%s  %s  %s  %s\n",
		paint(TitleStyle, pad("ID", 8)),
		paint(TitleStyle, pad("MSGS", 4)),
		paint(TitleStyle, pad("EDITED", 12)),
		paint(TitleStyle, "TITLE"))
	for _, m := range metas {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(a.Out, "%s  %s  %s  %s\n",
			paint(DimStyle, pad(id, 8)),
			pad(strconv.Itoa(m.MessageCount), 4),
			pad(formatAge(time.Since(m.LastEdited)), 12),
			Truncate(m.Title, titleWidth))
	}
	return nil
}

// printInfo writes the header fields of a conversation.
func printInfo(w io.Writer, conv *model.Conversation) {
	if conv == nil {
		return
	}
	printField(w, "Title:", conv.DisplayTitle())
	printField(w, "ID:", conv.ID)
	if conv.Provider != "" {
		printField(w, "Model:", conv.Provider+"/"+conv.Model)
	}
	printField(w, "Messages:", strconv.Itoa(len(conv.Messages)))
	printField(w, "Created:", conv.CreatedAt.Local().Format(time.DateTime))
	printField(w, "Edited:", conv.LastEdited.Local().Format(time.DateTime))
	if conv.Params.SystemPrompt != "" {
		printField(w, "System:", Truncate(conv.Params.SystemPrompt, 60))
	}
}

// pad left-aligns s in width cells.
func pad(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

// formatAge renders d as "5m ago", "3h ago" or "2d ago".
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
