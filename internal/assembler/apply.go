// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"context"
	"time"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/stream"
)

// =============================================================================
// EVENT APPLICATION
// =============================================================================

// Apply folds one event into the conversation and reports whether a flush
// happened. Changes that cannot flush yet stay pending until the interval
// passes; see NextFlush.
//
// Done and TerminalError are not applied; the caller ends the turn with
// Finish. Events arriving after the turn ended are ignored.
func (t *Turn) Apply(ctx context.Context, ev stream.Event) bool {
	if t.state.IsTerminal() || t.state == StateFinalizing {
		return false
	}
	now := t.opts.Now()
	if t.state == StateDispatched {
		t.state = StateStreaming
	}

	switch ev.(type) {
	case stream.Done, stream.TerminalError:
		return false
	}

	_, isContent := ev.(stream.ContentDelta)
	t.stats.RecordEvent(now, isContent)

	changed := t.apply(ctx, ev, now)
	if changed == nil || !stream.IsVisible(ev) {
		return false
	}
	if changed.force {
		changed.gate.flush(now)
		t.flushDue(now)
		return true
	}
	changed.gate.mark()
	return t.flushDue(now)
}

// change identifies the message an event touched.
type change struct {
	gate  *flushGate
	force bool // structural change, flushed immediately
}

func (t *Turn) touched(msg *model.Message, now time.Time) *change {
	return &change{gate: t.gate(msg, now)}
}

func (t *Turn) apply(ctx context.Context, ev stream.Event, now time.Time) *change {
	cur := t.current

	switch e := ev.(type) {
	case stream.ContentDelta:
		if e.Text == "" {
			return nil
		}
		t.stopReasoning(now)
		cur.Text += e.Text

	case stream.ReasoningDelta:
		if e.Text == "" {
			return nil
		}
		t.reasoning.start(now)
		cur.ReasoningText += e.Text

	case stream.ToolUpdate:
		if e.Name != "" {
			cur.ToolName = e.Name
		}
		cur.ToolContent += e.Content

	case stream.HTMLSet:
		cur.HTMLContent = e.HTML

	case stream.AutoTitle:
		if e.Title == "" {
			return nil
		}
		t.conv.SetTitle(e.Title)

	case stream.ImageSet:
		t.stopReasoning(now)
		cur.Images = e.Images

	case stream.ImageCaption:
		return t.attachBackward(now, (*model.Message).NeedsImageCaption, func(m *model.Message) {
			m.ImageCaption = e.Caption
		})

	case stream.DocumentCaption:
		return t.attachBackward(now, (*model.Message).NeedsDocumentText, func(m *model.Message) {
			m.DocumentText = e.Text
		})

	case stream.AudioAsset:
		cur.AudioAssets = append(cur.AudioAssets, e.Asset)

	case stream.ResourceSet:
		cur.Resources = e.Resources

	case stream.SearchResult:
		return t.insertSearch(e, now)

	case stream.LocationSet:
		cur.Locations = e.Locations

	case stream.RouteSet:
		cur.Routes = e.Routes

	case stream.EventSet:
		cur.Events = e.Events

	case stream.HealthSet:
		cur.HealthRecords = e.Records

	case stream.CodeSet:
		cur.CodeBlocks = e.Blocks

	case stream.KnowledgeSet:
		cur.KnowledgeCards = e.Cards

	case stream.CanvasUpdate:
		canvas := e.Canvas
		t.conv.Canvas = &canvas
		if canvas.ID != "" {
			t.conv.Params.CanvasID = canvas.ID
		}

	case stream.OperationalStatus:
		cur.Status = e.Status

	case stream.OperationalDetail:
		cur.StatusDetail = e.Detail

	case stream.SplitMarker:
		return t.split(ctx, now)

	default:
		return nil
	}
	return t.touched(cur, now)
}

// stopReasoning closes an open reasoning span and refreshes the label on
// the head message.
func (t *Turn) stopReasoning(now time.Time) {
	if !t.reasoning.stop(now) {
		return
	}
	t.head.ReasoningElapsed = t.opts.Notices.ReasoningElapsed(t.reasoning.Total())
	t.stats.Reasoning = t.reasoning.Total()
	if t.head != t.current {
		t.gate(t.head, now).mark()
	}
}

// attachBackward applies set to the most recent message matching needs.
// The event is dropped when no message qualifies.
func (t *Turn) attachBackward(now time.Time, needs func(*model.Message) bool, set func(*model.Message)) *change {
	msgs := t.conv.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if needs(msgs[i]) {
			set(msgs[i])
			t.relate(msgs[i])
			return t.touched(msgs[i], now)
		}
	}
	t.logger.Debug("caption dropped, no eligible message")
	return nil
}

// insertSearch places a search message just before the current part.
func (t *Turn) insertSearch(e stream.SearchResult, now time.Time) *change {
	msg := model.NewMessage(model.RoleSearch, e.Query)
	msg.GroupID = t.current.GroupID
	msg.Resources = e.Resources
	msg.Timestamp = time.Time{}
	t.conv.InsertBefore(t.current.ID, msg)
	t.relate(msg)
	return &change{gate: t.gate(msg, now), force: true}
}

// relate records a message outside the answer parts that the turn changed.
func (t *Turn) relate(msg *model.Message) {
	for _, p := range t.parts {
		if p == msg {
			return
		}
	}
	for _, r := range t.related {
		if r == msg {
			return
		}
	}
	t.related = append(t.related, msg)
}

// =============================================================================
// SPLIT
// =============================================================================

// split closes the current part and opens the next one in a new group
// linked to the previous group. The closed part is saved right away; it
// flushes now only if its interval has passed, otherwise it stays pending
// like any other change. A failed save shows the sync notice at once and
// the part is saved again at the end of the turn. An empty part is dropped
// instead and the new part takes its place.
func (t *Turn) split(ctx context.Context, now time.Time) *change {
	prev := t.current
	prev.Trim()
	prev.Streaming = false
	prev.Status, prev.StatusDetail = "", ""

	next := model.NewAssistantPlaceholder(model.NewID())
	next.ParentGroupID = prev.GroupID
	next.Timestamp = now

	at := t.conv.Index(prev.ID) + 1
	if prev.IsEmpty() {
		at--
		t.conv.Remove(prev.ID)
		delete(t.gates, prev.ID)
		t.parts = t.parts[:len(t.parts)-1]
		next.ParentGroupID = prev.ParentGroupID
		if t.head == prev {
			t.head = next
			next.Stats = t.stats
			next.ReasoningElapsed = prev.ReasoningElapsed
		}
	} else {
		g := t.gate(prev, now)
		g.mark()
		g.tryFlush(now)
		t.gw.InsertMessage(prev)
		t.gw.PutConversation(t.conv)
		if err := t.gw.Save(ctx); err != nil {
			t.logger.Warn("split save failed, retrying at finish", "message", prev.ID, "error", err)
			t.splitErr = err
			t.conv.Append(model.NewInformationMessage(t.opts.Notices.SyncFailed(err)))
		}
	}

	t.conv.InsertAt(at, next)
	t.parts = append(t.parts, next)
	t.current = next
	t.logger.Debug("answer split", "from_group", next.ParentGroupID, "group", next.GroupID)
	return &change{gate: t.gate(next, now), force: true}
}
