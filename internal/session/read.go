// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/stream"
)

// =============================================================================
// READ LOOP
// =============================================================================

// read opens the transport stream for h and hands normalized events to the
// executor in receive order. It stops on end of stream, a terminal event,
// an error, or cancellation of h.
func (s *Session) read(ctx context.Context, h *RequestHandle, req *http.Request) {
	defer s.wg.Done()

	st, err := s.cfg.Client.Open(ctx, req, s.cfg.Provider.Framing())
	if err != nil {
		s.end(ctx, h, nil, err)
		return
	}
	defer st.Close()

	h.setState(assembler.StateStreaming)
	norm := s.cfg.Provider.NewNormalizer()

	for {
		if h.Cancelled() {
			return
		}
		raw, err := st.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.end(ctx, h, norm.Flush(), nil)
				return
			}
			s.end(ctx, h, nil, err)
			return
		}

		events := norm.Normalize(raw)
		for i, ev := range events {
			switch e := ev.(type) {
			case stream.Done:
				s.end(ctx, h, append(events[:i:i], norm.Flush()...), nil)
				return
			case stream.TerminalError:
				s.end(ctx, h, events[:i], e)
				return
			}
		}
		if len(events) > 0 && !s.deliver(h, events) {
			return
		}
	}
}

// deliver applies events on the executor. It reports false once h is no
// longer live or the session stopped.
func (s *Session) deliver(h *RequestHandle, events []stream.Event) bool {
	live := false
	ok := s.exec.do(func() {
		if s.live != h {
			return
		}
		live = true
		flushed := false
		for _, ev := range events {
			if s.turn.Apply(s.ctx, ev) {
				flushed = true
			}
		}
		if flushed {
			s.flushed()
		}
		s.armFlushTimer(h)
	})
	return ok && live
}

// end applies the final events and finishes the turn. Errors caused by
// cancelling h are dropped; the cancel path already ended the turn.
func (s *Session) end(ctx context.Context, h *RequestHandle, events []stream.Event, streamErr error) {
	if streamErr != nil && (h.Cancelled() || ctx.Err() != nil) {
		return
	}
	s.exec.do(func() {
		if s.live != h {
			return
		}
		for _, ev := range events {
			s.turn.Apply(s.ctx, ev)
		}
		s.finishLive(h, streamErr)
	})
}

// =============================================================================
// TRAILING FLUSH
// =============================================================================

// armFlushTimer schedules a flush for changes the throttle held back, so
// the last tokens before a pause still reach subscribers. Runs on the
// executor.
func (s *Session) armFlushTimer(h *RequestHandle) {
	if s.timer != nil || s.turn == nil {
		return
	}
	d, pending := s.turn.NextFlush()
	if !pending {
		return
	}
	s.timer = time.AfterFunc(d, func() {
		s.exec.post(func() {
			if s.live != h {
				return
			}
			s.timer = nil
			if s.turn.FlushDue() {
				s.flushed()
			}
			s.armFlushTimer(h)
		})
	})
}

// flushed notifies observers of a flush. Runs on the executor.
func (s *Session) flushed() {
	if s.cfg.Observer != nil {
		s.cfg.Observer.Flushed(s.cfg.Provider.Name())
	}
	s.notify(UpdateFlush, assembler.StateStreaming)
}
