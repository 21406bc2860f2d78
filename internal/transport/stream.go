// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// frameReader splits a body into frames.
type frameReader interface {
	next() (RawEvent, error)
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazily read response body. Next is not safe for concurrent
// use; Close may be called from any goroutine.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.Closer
	reader frameReader
	logger *slog.Logger
	stop   func() bool

	closeOnce sync.Once
	closed    atomic.Bool

	// Owned by the goroutine calling Next.
	err    error
	frames int
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, r frameReader, logger *slog.Logger) *Stream {
	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		reader: r,
		logger: logger,
	}
	// Unblock a pending Read as soon as the context ends.
	s.stop = context.AfterFunc(ctx, func() { body.Close() })
	return s
}

// Next returns the next frame. It returns io.EOF at the natural end of the
// stream, ctx.Err() after cancellation and a *TransportError on failure.
// Once it has returned an error it keeps returning that error.
func (s *Stream) Next() (RawEvent, error) {
	if s.err != nil {
		return RawEvent{}, s.err
	}
	if s.closed.Load() {
		s.finish(ErrStreamClosed)
		return RawEvent{}, ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		s.finish(err)
		return RawEvent{}, err
	}

	ev, err := s.reader.next()
	if err == nil {
		s.frames++
		return ev, nil
	}

	switch {
	case s.closed.Load():
		err = ErrStreamClosed
	case s.ctx.Err() != nil:
		err = s.ctx.Err()
	case errors.Is(err, io.EOF):
		err = io.EOF
	case errors.Is(err, ErrChunkTooLarge):
		err = &TransportError{Kind: KindDecode, Err: err}
	default:
		err = &TransportError{Kind: KindNetwork, Err: err}
	}
	s.finish(err)
	return RawEvent{}, err
}

// Close ends the stream and releases the connection. It is idempotent and
// unblocks a concurrent Next, which then returns ErrStreamClosed.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.release()
	return nil
}

// Frames returns the number of frames read so far.
func (s *Stream) Frames() int {
	return s.frames
}

func (s *Stream) finish(err error) {
	s.err = err
	s.logger.Debug("stream finished", "frames", s.frames, "reason", err)
	s.release()
}

func (s *Stream) release() {
	s.closeOnce.Do(func() {
		s.stop()
		s.cancel()
		s.body.Close()
	})
}
