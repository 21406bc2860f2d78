// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
)

// maxAttachmentBytes bounds one attached file.
const maxAttachmentBytes = 20 << 20

// =============================================================================
// ASK COMMAND
// =============================================================================

// inputFlags are shared by commands that send a message.
type inputFlags struct {
	conversation string
	images       []string
	files        []string
	system       string
	temperature  float64
	maxTokens    int
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.conversation, "conversation", "c", "", "continue the conversation with this ID or ID prefix")
	cmd.Flags().StringSliceVar(&f.images, "image", nil, "attach an image file")
	cmd.Flags().StringSliceVar(&f.files, "file", nil, "attach a text document")
	cmd.Flags().StringVar(&f.system, "system", "", "system prompt for this conversation")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "sampling temperature (0-2)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens in the answer")
}

// params returns parameter overrides from the flags, or nil when none
// were given.
func (f *inputFlags) params(cmd *cobra.Command, base model.GenerationParams) *model.GenerationParams {
	changed := false
	if cmd.Flags().Changed("system") {
		base.SystemPrompt = f.system
		changed = true
	}
	if cmd.Flags().Changed("temperature") {
		base.Temperature = f.temperature
		changed = true
	}
	if cmd.Flags().Changed("max-tokens") {
		base.MaxTokens = f.maxTokens
		changed = true
	}
	if !changed {
		return nil
	}
	return &base
}

// input reads attachments and builds the message input.
func (f *inputFlags) input(text string) (session.Input, error) {
	in := session.Input{Text: text}
	for _, path := range f.images {
		data, err := readAttachment(path)
		if err != nil {
			return in, err
		}
		in.Images = append(in.Images, model.Image{MIMEType: http.DetectContentType(data), Data: data})
	}
	for _, path := range f.files {
		data, err := readAttachment(path)
		if err != nil {
			return in, err
		}
		if !utf8.Valid(data) {
			return in, fmt.Errorf("%s: only text documents can be attached", path)
		}
		in.Documents = append(in.Documents, model.Document{
			Name:     filepath.Base(path),
			MIMEType: http.DetectContentType(data),
			Text:     string(data),
		})
	}
	return in, nil
}

func readAttachment(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxAttachmentBytes {
		return nil, fmt.Errorf("%s: attachment larger than %d MB", path, maxAttachmentBytes>>20)
	}
	return os.ReadFile(path)
}

// openSession resumes the conversation named by the flag or creates one.
func (a *App) openSession(ctx context.Context, idOrPrefix string) (*session.Session, error) {
	if idOrPrefix != "" {
		return a.conversation(ctx, idOrPrefix)
	}
	e, err := a.Open()
	if err != nil {
		return nil, err
	}
	return e.Manager.Create(ctx, nil)
}

func newAskCommand(app *App) *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the answer",
		Long: `Send one message and print the answer as it streams in.

The message is read from the arguments, or from stdin when none are given.
Without --conversation a new conversation is started; its ID is printed
so it can be continued later.`,
		Example: `  threadline ask "What is the capital of France?"
  threadline ask -c 3f2a "And of Spain?"
  threadline ask --image chart.png "Describe this chart"
  git diff | threadline ask --system "You review code"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			if text == "" && !isTerminal(app.In) {
				data, err := io.ReadAll(io.LimitReader(app.In, maxAttachmentBytes))
				if err != nil {
					return err
				}
				text = string(data)
			}

			in, err := flags.input(text)
			if err != nil {
				return err
			}
			if strings.TrimSpace(in.Text) == "" && len(in.Images) == 0 && len(in.Documents) == 0 {
				return session.ErrEmptyInput
			}
			s, err := app.openSession(ctx, flags.conversation)
			if err != nil {
				return err
			}
			if snap := s.Snapshot(); snap != nil {
				in.Params = flags.params(cmd, snap.Params)
			}

			err = app.runTurn(ctx, s, func() (*session.RequestHandle, error) {
				return s.SendMessage(ctx, in)
			})
			if err == nil && !app.JSON {
				fmt.Fprintln(app.Err, paint(DimStyle, "conversation "+s.ID()))
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// runTurn streams one turn to the output and reports its outcome.
func (a *App) runTurn(ctx context.Context, s *session.Session, begin func() (*session.RequestHandle, error)) error {
	var out io.Writer = a.Out
	if a.JSON {
		out = io.Discard
	}
	ctx, stop := notifyInterrupt(ctx)
	defer stop()

	h, err := streamTurn(ctx, s, out, !ColorsEnabled(), begin)
	if err != nil {
		return err
	}
	return a.reportTurn(s.ID(), h)
}
