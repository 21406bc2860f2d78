// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"errors"
	"time"

	"github.com/jeranaias/threadline/internal/model"
)

// ErrEmptyResult marks a stream that ended without text, reasoning or images.
var ErrEmptyResult = errors.New("empty result")

// DefaultFlushInterval is the minimum spacing between flushes of one message.
const DefaultFlushInterval = 300 * time.Millisecond

// =============================================================================
// TURN STATE
// =============================================================================

// State is the lifecycle position of a turn.
type State int

const (
	StateIdle State = iota
	StateDispatched
	StateStreaming
	StateFinalizing
	StateCommitted
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the turn has ended.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is the result of finishing or interrupting a turn.
type Outcome struct {
	State State

	// Cause is the stream error, ErrEmptyResult or the persistence error
	// that kept the turn from committing. Nil for clean commits and
	// cancellations that saved.
	Cause error

	// SyncErr is set when the final Save failed. The in-memory
	// conversation still shows the turn.
	SyncErr error

	// SplitErr is set when saving a part closed at a split failed. The
	// part is saved again with the turn.
	SplitErr error

	// Messages are the answer parts of the turn in conversation order.
	Messages []*model.Message

	Stats *model.Statistics
}

// Committed reports whether the answer was saved as a normal result.
func (o Outcome) Committed() bool {
	return o.State == StateCommitted && o.SyncErr == nil
}

// SyncFailed reports whether the final Save failed.
func (o Outcome) SyncFailed() bool {
	return o.SyncErr != nil
}
