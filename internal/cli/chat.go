// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/config"
	"github.com/jeranaias/threadline/internal/export"
	"github.com/jeranaias/threadline/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and input history for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line. Non-blank lines are added to history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history owner-only.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

var slashCommands = []struct {
	name, args, help string
}{
	{"/help", "", "Show available commands"},
	{"/retry", "", "Regenerate the last answer"},
	{"/cancel", "", "Cancel the live answer"},
	{"/history", "", "Show the conversation so far"},
	{"/info", "", "Show conversation details"},
	{"/export", "[format]", "Export the conversation to a file"},
	{"/new", "", "Start a new conversation"},
	{"/quit", "", "Exit chat"},
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c.name, line) {
			out = append(out, c.name)
		}
	}
	return out
}

// chatLoop is one interactive chat.
type chatLoop struct {
	app *App
	s   *session.Session
}

// errQuit ends the loop.
var errQuit = errors.New("quit")

// handle runs a slash command.
func (l *chatLoop) handle(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	out := l.app.Out

	switch name {
	case "/help", "/h":
		for _, c := range slashCommands {
			fmt.Fprintf(out, "  %-18s %s\n", paint(PromptStyle, strings.TrimSpace(c.name+" "+c.args)), c.help)
		}
		fmt.Fprintln(out, paint(DimStyle, "  Ctrl+C cancels a streaming answer, Ctrl+D exits"))
	case "/quit", "/q", "/exit":
		return errQuit
	case "/retry", "/r":
		id := lastAnswerID(l.s)
		if id == "" {
			return errors.New("nothing to retry yet")
		}
		return l.app.runTurn(ctx, l.s, func() (*session.RequestHandle, error) {
			return l.s.Retry(ctx, id)
		})
	case "/cancel":
		l.s.Cancel()
	case "/history":
		printConversation(out, l.s.Snapshot(), terminalWidth(out))
	case "/info":
		printInfo(out, l.s.Snapshot())
	case "/export":
		format := export.FormatMarkdown
		if arg != "" {
			f, err := export.ParseFormat(arg)
			if err != nil {
				return err
			}
			format = f
		}
		path, err := exportConversation(l.s.Snapshot(), format, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, paint(SuccessStyle, "Exported to "+path))
	case "/new", "/clear":
		e, err := l.app.Open()
		if err != nil {
			return err
		}
		s, err := e.Manager.Create(ctx, nil)
		if err != nil {
			return err
		}
		l.s = s
		fmt.Fprintln(out, paint(DimStyle, "new conversation "+s.ID()))
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
	return nil
}

// lastAnswerID returns the ID of the newest answer message, or "".
func lastAnswerID(s *session.Session) string {
	conv := s.Snapshot()
	if conv == nil {
		return ""
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role.IsAnswer() {
			return conv.Messages[i].ID
		}
	}
	return ""
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(app *App) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat. Answers stream in as they are generated.

Interactive commands:
  /help        Show available commands
  /retry       Regenerate the last answer
  /history     Show the conversation so far
  /export fmt  Export to markdown, json, openai, transcript or yaml
  /new         Start a new conversation
  /quit        Exit chat
  Ctrl+C       Cancel the streaming answer
  Ctrl+D       Exit chat`,
		Example: `  threadline chat
  threadline chat -c 3f2a
  threadline chat --provider openai --model gpt-4o-mini`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.openSession(ctx, conversation)
			if err != nil {
				return err
			}
			return app.chat(ctx, s, NewChatCLI())
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "resume the conversation with this ID or ID prefix")
	return cmd
}

// lineReader is the input side of the chat loop.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// chat runs the REPL until the reader ends or /quit.
func (a *App) chat(ctx context.Context, s *session.Session, in lineReader) error {
	defer in.Close()

	loop := &chatLoop{app: a, s: s}
	e, err := a.Open()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, paint(TitleStyle, "threadline")+" "+paint(DimStyle, e.Provider.Name()+"/"+e.Provider.Model()))
	if conv := s.Snapshot(); conv != nil && len(conv.Messages) > 0 {
		printConversation(a.Out, conv, terminalWidth(a.Out))
		fmt.Fprintln(a.Out)
	}
	fmt.Fprintln(a.Out, paint(DimStyle, "Type /help for commands, Ctrl+D to exit"))

	for {
		input, err := in.ReadInput(paint(PromptStyle, "you> "))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(a.Out)
				break
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			err := loop.handle(ctx, input)
			if errors.Is(err, errQuit) {
				break
			}
			if err != nil {
				fmt.Fprintln(a.Err, paint(ErrorStyle, err.Error()))
			}
			continue
		}

		err = a.runTurn(ctx, loop.s, func() (*session.RequestHandle, error) {
			return loop.s.SendMessage(ctx, session.Input{Text: input})
		})
		if err != nil {
			fmt.Fprintln(a.Err, paint(ErrorStyle, err.Error()))
		}
	}
	fmt.Fprintln(a.Out, paint(DimStyle, "conversation "+loop.s.ID()+" saved"))
	return nil
}
