// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/diff"
	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
)

// =============================================================================
// RETRY COMMAND
// =============================================================================

func newRetryCommand(app *App) *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "retry <conversation> [message-id]",
		Short: "Regenerate an answer",
		Long: `Delete an answer and stream a new one in its place. Without a message
ID the last answer of the conversation is regenerated. Every part of the
answer is replaced, whichever part the ID names.`,
		Example: `  threadline retry 3f2a
  threadline retry 3f2a --diff
  threadline retry 3f2a 9b1c0d4e-0000-4000-8000-000000000000`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.conversation(ctx, args[0])
			if err != nil {
				return err
			}

			id := lastAnswerID(s)
			if len(args) == 2 {
				id = args[1]
			}
			if id == "" {
				return errors.New("conversation has no answer to retry")
			}

			previous := answerText(s.Snapshot(), id)
			var h *session.RequestHandle
			err = app.runTurn(ctx, s, func() (*session.RequestHandle, error) {
				var err error
				h, err = s.Retry(ctx, id)
				return h, err
			})
			if err != nil {
				return fmt.Errorf("retry %s: %w", id, err)
			}
			if showDiff && !app.JSON {
				printAnswerDiff(app, previous, joinAnswer(h.Outcome().Messages))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "show how the new answer differs from the old one")
	return cmd
}

// answerText returns the text of the answer run containing id.
func answerText(conv *model.Conversation, id string) string {
	if conv == nil {
		return ""
	}
	i := conv.Index(id)
	if i < 0 {
		return ""
	}
	from, to := session.AnswerRun(conv.Messages, i)
	return joinAnswer(conv.Messages[from:to])
}

func joinAnswer(msgs []*model.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Text != "" {
			parts = append(parts, msg.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// printAnswerDiff writes a colored unified diff of two answers.
func printAnswerDiff(app *App, previous, current string) {
	c := diff.Compare(previous, current)
	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, paint(TitleStyle, "Changes: ")+c.Summary())
	for _, line := range strings.Split(strings.TrimSuffix(c.Unified("previous", "retry"), "\n"), "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(app.Out, paint(SuccessStyle, line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(app.Out, paint(ErrorStyle, line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprintln(app.Out, paint(DimStyle, line))
		default:
			fmt.Fprintln(app.Out, line)
		}
	}
}
