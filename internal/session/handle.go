// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/threadline/internal/assembler"
)

// RequestHandle is one in-flight streaming call. At most one handle per
// session is live at a time.
type RequestHandle struct {
	id      uint64
	retry   bool
	session *Session

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	state   assembler.State
	outcome assembler.Outcome
}

func newHandle(s *Session, id uint64, retry bool, cancel context.CancelFunc) *RequestHandle {
	return &RequestHandle{
		id:      id,
		retry:   retry,
		session: s,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   assembler.StateDispatched,
	}
}

// ID returns the handle's sequence number within its session.
func (h *RequestHandle) ID() uint64 {
	return h.id
}

// IsRetry reports whether the handle was started by Retry.
func (h *RequestHandle) IsRetry() bool {
	return h.retry
}

// Done is closed once the turn reached a terminal state.
func (h *RequestHandle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether Cancel was called on the handle.
func (h *RequestHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// State returns the turn state.
func (h *RequestHandle) State() assembler.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome returns the turn result. It is only meaningful after Done.
func (h *RequestHandle) Outcome() assembler.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Wait blocks until the turn ends or ctx is done.
func (h *RequestHandle) Wait(ctx context.Context) (assembler.Outcome, error) {
	select {
	case <-h.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return assembler.Outcome{}, ctx.Err()
	}
}

// Cancel stops the call. It is idempotent and a no-op once the turn ended.
func (h *RequestHandle) Cancel() {
	h.session.cancelHandle(h)
}

func (h *RequestHandle) setState(state assembler.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.IsTerminal() {
		h.state = state
	}
}

// markCancelled sets the flag and closes the transport.
func (h *RequestHandle) markCancelled() {
	h.cancelled.Store(true)
	h.cancel()
}

// finish records the outcome and releases waiters.
func (h *RequestHandle) finish(out assembler.Outcome) {
	h.mu.Lock()
	h.state = out.State
	h.outcome = out
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
