// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the messages a turn adds to a conversation as they
// grow. Messages present before the turn are never printed.
type streamPrinter struct {
	w        io.Writer
	width    int
	plain    bool
	before   map[string]bool
	printed  map[string]string
	lastID   string
	rendered bool
}

func newStreamPrinter(w io.Writer, before *model.Conversation, plain bool) *streamPrinter {
	p := &streamPrinter{
		w:       w,
		width:   terminalWidth(w),
		plain:   plain,
		before:  make(map[string]bool),
		printed: make(map[string]string),
	}
	if before != nil {
		for _, msg := range before.Messages {
			p.before[msg.ID] = true
		}
	}
	return p
}

// render prints whatever changed since the last call. With plain unset
// nothing is printed until final.
func (p *streamPrinter) render(conv *model.Conversation, final bool) {
	if conv == nil || (!p.plain && !final) {
		return
	}
	for _, msg := range conv.Messages {
		if p.before[msg.ID] || msg.Role == model.RoleUser {
			continue
		}
		old, seen := p.printed[msg.ID]
		if !seen && msg.Text == "" {
			continue
		}
		if msg.Role != model.RoleAssistant {
			if !seen {
				p.separate(msg.ID)
				fmt.Fprintln(p.w, paint(roleStyles[msg.Role], msg.Text))
				p.printed[msg.ID] = msg.Text
			}
			continue
		}
		if !p.plain {
			p.separate(msg.ID)
			fmt.Fprint(p.w, renderMarkdown(msg.Text, p.width))
			p.printed[msg.ID] = msg.Text
			continue
		}
		switch {
		case !seen:
			p.separate(msg.ID)
			fmt.Fprint(p.w, msg.Text)
		case strings.HasPrefix(msg.Text, old):
			fmt.Fprint(p.w, msg.Text[len(old):])
		default:
			// Text was replaced, e.g. by an error notice.
			fmt.Fprint(p.w, "\n"+msg.Text)
		}
		p.printed[msg.ID] = msg.Text
		p.lastID = msg.ID
	}
}

// separate starts a new block unless id continues the last one.
func (p *streamPrinter) separate(id string) {
	if p.rendered && id != p.lastID {
		fmt.Fprint(p.w, "\n\n")
	}
	p.rendered = true
	p.lastID = id
}

// done terminates the last line.
func (p *streamPrinter) done() {
	if p.rendered && p.plain {
		fmt.Fprintln(p.w)
	}
}

// =============================================================================
// TURN DRIVER
// =============================================================================

// streamTurn subscribes to s, starts a turn with begin, and prints it until
// the turn ends. Cancelling ctx cancels the turn.
func streamTurn(ctx context.Context, s *session.Session, w io.Writer, plain bool, begin func() (*session.RequestHandle, error)) (*session.RequestHandle, error) {
	printer := newStreamPrinter(w, s.Snapshot(), plain)

	var (
		mu     sync.Mutex
		latest *model.Conversation
	)
	updated := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(u session.Update) {
		mu.Lock()
		latest = u.Conversation
		mu.Unlock()
		select {
		case updated <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	h, err := begin()
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-updated:
			mu.Lock()
			conv := latest
			mu.Unlock()
			printer.render(conv, false)
		case <-ctx.Done():
			h.Cancel()
			<-h.Done()
			printer.render(s.Snapshot(), true)
			printer.done()
			return h, nil
		case <-h.Done():
			printer.render(s.Snapshot(), true)
			printer.done()
			return h, nil
		}
	}
}

// describeOutcome returns a one-line status for a finished turn.
func describeOutcome(out assembler.Outcome) string {
	var b strings.Builder
	b.WriteString(out.State.String())
	if out.Stats != nil {
		b.WriteString(" | ")
		b.WriteString(out.Stats.Format())
	}
	if out.SyncErr != nil {
		b.WriteString(" | not saved: ")
		b.WriteString(out.SyncErr.Error())
	} else if out.Cause != nil {
		b.WriteString(" | ")
		b.WriteString(out.Cause.Error())
	}
	return b.String()
}

// turnResult is the JSON shape of a finished turn.
type turnResult struct {
	ConversationID string            `json:"conversation_id"`
	RequestID      uint64            `json:"request_id"`
	Retry          bool              `json:"retry,omitempty"`
	State          string            `json:"state"`
	Error          string            `json:"error,omitempty"`
	SyncError      string            `json:"sync_error,omitempty"`
	Stats          *model.Statistics `json:"stats,omitempty"`
	Messages       []*model.Message  `json:"messages"`
}

func newTurnResult(conversationID string, h *session.RequestHandle) turnResult {
	out := h.Outcome()
	r := turnResult{
		ConversationID: conversationID,
		RequestID:      h.ID(),
		Retry:          h.IsRetry(),
		State:          out.State.String(),
		Stats:          out.Stats,
		Messages:       out.Messages,
	}
	if out.Cause != nil {
		r.Error = out.Cause.Error()
	}
	if out.SyncErr != nil {
		r.SyncError = out.SyncErr.Error()
	}
	if r.Messages == nil {
		r.Messages = []*model.Message{}
	}
	return r
}

// reportTurn prints the result of h, as JSON when asked.
func (a *App) reportTurn(conversationID string, h *session.RequestHandle) error {
	if a.JSON {
		return writeJSON(a.Out, newTurnResult(conversationID, h))
	}
	out := h.Outcome()
	style := DimStyle
	switch {
	case out.SyncErr != nil, out.State == assembler.StateFailed:
		style = ErrorStyle
	case out.State == assembler.StateCancelled:
		style = WarningStyle
	}
	fmt.Fprintln(a.Err, paint(style, describeOutcome(out)))
	return nil
}
