// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"log/slog"
	"time"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/notice"
	"github.com/jeranaias/threadline/internal/storage"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a turn.
type Options struct {
	// FlushInterval is the minimum spacing between flushes of one message.
	// Zero means DefaultFlushInterval.
	FlushInterval time.Duration

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	// Notices renders user-facing text. Nil means English.
	Notices *notice.Catalog

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Notices == nil {
		o.Notices = notice.New("")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// =============================================================================
// TURN
// =============================================================================

// Turn folds one streamed answer into a conversation.
//
// A Turn is not safe for concurrent use. The session applies every event
// from a single goroutine.
type Turn struct {
	conv   *model.Conversation
	gw     storage.Gateway
	opts   Options
	logger *slog.Logger

	state State

	// head is the first answer part; it carries the reasoning label and
	// the statistics even after splits.
	head    *model.Message
	current *model.Message
	parts   []*model.Message

	// related are messages outside the answer parts that the turn changed:
	// inserted search results and messages that received captions.
	related []*model.Message

	gates     map[string]*flushGate
	reasoning reasoningClock
	stats     *model.Statistics

	// splitErr is the last failed save of a part closed at a split.
	splitErr error

	outcome Outcome
}

// Begin appends a streaming placeholder to conv and returns the turn that
// will fill it. The placeholder exists before any byte has been received.
func Begin(conv *model.Conversation, gw storage.Gateway, opts Options) *Turn {
	return BeginAt(conv, gw, len(conv.Messages), opts)
}

// BeginAt is Begin with the placeholder inserted at position at. Retries
// use it to put the new answer where the removed one was.
func BeginAt(conv *model.Conversation, gw storage.Gateway, at int, opts Options) *Turn {
	opts = opts.withDefaults()
	now := opts.Now()

	t := &Turn{
		conv:   conv,
		gw:     gw,
		opts:   opts,
		gates:  make(map[string]*flushGate),
		stats:  model.NewStatistics(now),
		state:  StateDispatched,
		logger: opts.Logger.With("component", "assembler", "conversation", conv.ID),
	}

	msg := model.NewAssistantPlaceholder(model.NewID())
	msg.Timestamp = now
	msg.Stats = t.stats
	conv.InsertAt(at, msg)

	t.head = msg
	t.current = msg
	t.parts = []*model.Message{msg}
	t.gates[msg.ID] = newFlushGate(msg, opts.FlushInterval, now)

	t.logger.Debug("turn dispatched", "message", msg.ID, "group", msg.GroupID)
	return t
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the lifecycle state.
func (t *Turn) State() State {
	return t.state
}

// Head returns the first answer part.
func (t *Turn) Head() *model.Message {
	return t.head
}

// Current returns the answer part receiving events.
func (t *Turn) Current() *model.Message {
	return t.current
}

// Parts returns the answer parts in order.
func (t *Turn) Parts() []*model.Message {
	return append([]*model.Message(nil), t.parts...)
}

// Conversation returns the conversation being assembled.
func (t *Turn) Conversation() *model.Conversation {
	return t.conv
}

// ReasoningTotal returns the summed duration of closed reasoning spans.
func (t *Turn) ReasoningTotal() time.Duration {
	return t.reasoning.Total()
}

// Stats returns the live statistics of the turn.
func (t *Turn) Stats() *model.Statistics {
	return t.stats
}

// Outcome returns the result once the turn is terminal.
func (t *Turn) Outcome() Outcome {
	return t.outcome
}

// =============================================================================
// FLUSHING
// =============================================================================

// gate returns the flush gate for msg, creating one on first use.
func (t *Turn) gate(msg *model.Message, now time.Time) *flushGate {
	g, ok := t.gates[msg.ID]
	if !ok {
		g = newFlushGate(msg, t.opts.FlushInterval, now)
		t.gates[msg.ID] = g
	}
	return g
}

// flushDue flushes every dirty message whose interval has elapsed.
func (t *Turn) flushDue(now time.Time) bool {
	flushed := false
	for _, g := range t.gates {
		if g.tryFlush(now) {
			flushed = true
		}
	}
	return flushed
}

// FlushDue flushes pending changes whose interval has elapsed and reports
// whether anything was flushed. The session calls it from its trailing
// flush timer.
func (t *Turn) FlushDue() bool {
	if t.state.IsTerminal() {
		return false
	}
	return t.flushDue(t.opts.Now())
}

// NextFlush returns the delay until the earliest pending change may flush.
// ok is false when nothing is pending.
func (t *Turn) NextFlush() (d time.Duration, ok bool) {
	if t.state.IsTerminal() {
		return 0, false
	}
	now := t.opts.Now()
	for _, g := range t.gates {
		if w, pending := g.wait(now); pending && (!ok || w < d) {
			d, ok = w, true
		}
	}
	return d, ok
}

// flushAll stamps every message of the turn at the end.
func (t *Turn) flushAll(now time.Time) {
	for _, g := range t.gates {
		g.flush(now)
	}
}
