// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"context"
	"time"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// FINISH
// =============================================================================

// Finish ends the turn after the stream completed. streamErr is nil for a
// clean end, or the TerminalError / transport error that stopped it.
//
// Everything the turn changed is committed with one Save. A failed Save
// leaves the conversation as shown and appends an unsaved information
// message describing the failure. Finish is a no-op on a finished turn.
func (t *Turn) Finish(ctx context.Context, streamErr error) Outcome {
	if t.state.IsTerminal() {
		return t.outcome
	}
	t.state = StateFinalizing
	now := t.opts.Now()
	t.closeParts(now)

	// A trailing empty part after a split carries nothing; drop it.
	if len(t.parts) > 1 && t.current.IsEmpty() && streamErr == nil {
		t.dropPart(t.current)
	}
	last := t.current

	state := StateCommitted
	var cause error
	switch {
	case streamErr != nil:
		cause = streamErr
		state = StateFailed
		last.Role = model.RoleError
		last.Text = Classify(streamErr, t.opts.Notices)
	case !t.hasContent():
		cause = ErrEmptyResult
		state = StateFailed
		last.Role = model.RoleError
		last.Text = t.opts.Notices.EmptyResult()
	default:
		t.conv.SetPreview(last)
	}
	t.conv.Touch(now)

	syncErr := t.commit(ctx, nil)
	if syncErr != nil {
		state = StateFailed
		if cause == nil {
			cause = syncErr
		}
	}
	t.flushAll(now)
	t.end(state, cause, syncErr)

	t.logger.Info("turn finished",
		"state", state.String(),
		"parts", len(t.parts),
		"stats", t.stats.Format(),
		"error", cause)
	return t.outcome
}

// =============================================================================
// INTERRUPT
// =============================================================================

// Interrupt ends the turn on cancellation. Parts with content are kept and
// saved, empty parts are removed, and an information message notes the
// interruption. Interrupt is a no-op on a finished turn.
func (t *Turn) Interrupt(ctx context.Context) Outcome {
	if t.state.IsTerminal() {
		return t.outcome
	}
	t.state = StateFinalizing
	now := t.opts.Now()
	t.closeParts(now)

	for _, p := range append([]*model.Message(nil), t.parts...) {
		if p.IsEmpty() {
			t.dropPart(p)
		}
	}
	if len(t.parts) > 0 {
		t.conv.SetPreview(t.parts[len(t.parts)-1])
	}

	info := model.NewInformationMessage(t.opts.Notices.Interrupted())
	info.Timestamp = now
	t.conv.Append(info)
	t.conv.Touch(now)

	syncErr := t.commit(ctx, info)
	t.flushAll(now)
	t.end(StateCancelled, nil, syncErr)

	t.logger.Info("turn interrupted", "parts", len(t.parts), "stats", t.stats.Format())
	return t.outcome
}

// =============================================================================
// HELPERS
// =============================================================================

// closeParts stops reasoning, clears streaming state and trims text.
func (t *Turn) closeParts(now time.Time) {
	t.stopReasoning(now)
	t.stats.Finalize(now)
	t.stats.Reasoning = t.reasoning.Total()
	for _, p := range t.parts {
		p.Streaming = false
		p.Status, p.StatusDetail = "", ""
		p.Trim()
	}
}

// hasContent reports whether any part carries text, reasoning or images.
func (t *Turn) hasContent() bool {
	for _, p := range t.parts {
		if p.HasContent() {
			return true
		}
	}
	return false
}

// dropPart removes an unsaved part from the conversation. Parts that were
// saved at a split are never empty, so nothing needs deleting in storage.
func (t *Turn) dropPart(msg *model.Message) {
	t.conv.Remove(msg.ID)
	delete(t.gates, msg.ID)
	for i, p := range t.parts {
		if p == msg {
			t.parts = append(t.parts[:i], t.parts[i+1:]...)
			break
		}
	}
	if len(t.parts) == 0 {
		return
	}
	if t.head == msg {
		t.head = t.parts[0]
		t.head.Stats = t.stats
		t.head.ReasoningElapsed = msg.ReasoningElapsed
	}
	if t.current == msg {
		t.current = t.parts[len(t.parts)-1]
	}
}

// commit stages every message the turn touched plus the conversation and
// saves once. Parts saved at a split are staged again, so a split-time
// failure is repaired by a successful final Save. On failure an unsaved
// information message is appended.
func (t *Turn) commit(ctx context.Context, extra *model.Message) error {
	for _, p := range t.parts {
		t.gw.InsertMessage(p)
	}
	for _, r := range t.related {
		if t.conv.Index(r.ID) >= 0 {
			t.gw.InsertMessage(r)
		}
	}
	if extra != nil {
		t.gw.InsertMessage(extra)
	}
	t.gw.PutConversation(t.conv)

	err := t.gw.Save(ctx)
	if err != nil {
		t.logger.Error("turn save failed", "error", err)
		info := model.NewInformationMessage(t.opts.Notices.SyncFailed(err))
		t.conv.Append(info)
		return err
	}
	if t.splitErr != nil {
		t.logger.Info("parts saved after failed split save", "error", t.splitErr)
	}
	return nil
}

func (t *Turn) end(state State, cause, syncErr error) {
	t.state = state
	t.outcome = Outcome{
		State:    state,
		Cause:    cause,
		SyncErr:  syncErr,
		SplitErr: t.splitErr,
		Messages: t.Parts(),
		Stats:    t.stats,
	}
}
