// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/notice"
	"github.com/jeranaias/threadline/internal/provider"
	"github.com/jeranaias/threadline/internal/storage"
	"github.com/jeranaias/threadline/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrEmptyInput is returned when a message has no text and no attachments.
	ErrEmptyInput = errors.New("message has no text or attachments")

	// ErrMessageNotFound is returned when a retry target does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotRetryable is returned when the retry target is not part of an answer.
	ErrNotRetryable = errors.New("message is not an answer")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Observer receives turn lifecycle notifications, typically for metrics.
type Observer interface {
	TurnStarted(provider string, retry bool)
	TurnFinished(provider string, out assembler.Outcome)
	Flushed(provider string)
}

// Config wires a session to its collaborators.
type Config struct {
	Provider provider.Provider
	Client   *transport.Client

	// Store is shared by sessions; each session stages and saves through
	// its own unit of work.
	Store *storage.Store

	// FlushInterval, Notices and Now are passed to every turn.
	Assembler assembler.Options

	Observer Observer
	Logger   *slog.Logger
}

// Input is one user message.
type Input struct {
	Text      string
	Images    []model.Image
	Documents []model.Document

	// Params replaces the conversation parameters when set.
	Params *model.GenerationParams
}

// UpdateReason says why subscribers were notified.
type UpdateReason string

const (
	UpdateUserMessage UpdateReason = "user_message"
	UpdateStarted     UpdateReason = "started"
	UpdateFlush       UpdateReason = "flush"
	UpdateFinished    UpdateReason = "finished"
	UpdateCancelled   UpdateReason = "cancelled"
	UpdateRetry       UpdateReason = "retry"
)

// Update is delivered to subscribers with a snapshot of the conversation.
type Update struct {
	Reason       UpdateReason
	Conversation *model.Conversation
	State        assembler.State
}

// =============================================================================
// SESSION
// =============================================================================

// Session drives one conversation: it sends messages, streams answers into
// the conversation, and handles cancellation and retries. All mutations run
// on one executor goroutine; the transport read loop runs on its own
// goroutine and hands each batch of events to the executor.
type Session struct {
	cfg    Config
	logger *slog.Logger
	exec   *executor

	// ctx outlives every handle; saves use it so a cancelled request can
	// still record its partial answer.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// gw is this session's unit of work on cfg.Store.
	gw storage.Gateway

	closeOnce sync.Once

	// Owned by the executor.
	conv   *model.Conversation
	live   *RequestHandle
	turn   *assembler.Turn
	timer  *time.Timer
	nextID uint64

	subMu  sync.Mutex
	subs   map[int]func(Update)
	nextSu int
}

// New creates a session for conv. The conversation must not be used by the
// caller afterwards; read it through Snapshot.
func New(conv *model.Conversation, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = transport.NewClient(transport.WithLogger(cfg.Logger))
	}
	if cfg.Assembler.Logger == nil {
		cfg.Assembler.Logger = cfg.Logger
	}
	if cfg.Assembler.Notices == nil {
		cfg.Assembler.Notices = notice.New("")
	}
	if conv.Provider == "" && cfg.Provider != nil {
		conv.Provider = cfg.Provider.Name()
		conv.Model = cfg.Provider.Model()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session", "conversation", conv.ID),
		exec:   newExecutor(),
		ctx:    ctx,
		cancel: cancel,
		gw:     cfg.Store.Begin(),
		conv:   conv,
		subs:   make(map[int]func(Update)),
	}
}

// ID returns the conversation ID.
func (s *Session) ID() string {
	return s.conv.ID
}

// =============================================================================
// INBOUND OPERATIONS
// =============================================================================

// SendMessage appends a user message and starts streaming the answer. A
// live request is cancelled first. The returned handle tracks the answer;
// the conversation reflects the outcome either way.
func (s *Session) SendMessage(ctx context.Context, in Input) (*RequestHandle, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Images) == 0 && len(in.Documents) == 0 {
		return nil, ErrEmptyInput
	}
	if in.Params != nil {
		if err := in.Params.Validate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var h *RequestHandle
	ok := s.exec.do(func() {
		s.cancelLive()
		if in.Params != nil {
			canvasID := s.conv.Params.CanvasID
			s.conv.Params = *in.Params
			if s.conv.Params.CanvasID == "" {
				s.conv.Params.CanvasID = canvasID
			}
		}

		user := model.NewUserMessage(strings.TrimSpace(in.Text), in.Images, in.Documents)
		s.conv.Append(user)
		s.conv.Touch(user.Timestamp)
		s.gw.InsertMessage(user)
		s.gw.PutConversation(s.conv)
		if err := s.gw.Save(s.ctx); err != nil {
			s.syncFailed(err)
		}
		s.notify(UpdateUserMessage, assembler.StateIdle)

		h = s.start(len(s.conv.Messages), false)
	})
	if !ok {
		return nil, ErrClosed
	}
	return h, nil
}

// Cancel stops the live request, if any. It is idempotent.
func (s *Session) Cancel() {
	s.exec.do(s.cancelLive)
}

// Retry removes the answer containing messageID and streams a new one in
// its place. The whole answer run is deleted in one Save; if that fails
// the conversation is left untouched and the error is returned.
func (s *Session) Retry(ctx context.Context, messageID string) (*RequestHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		h   *RequestHandle
		err error
	)
	ok := s.exec.do(func() {
		if err = s.checkRetryable(messageID); err != nil {
			return
		}
		s.cancelLive()

		// Cancelling may have removed an empty placeholder.
		i := s.conv.Index(messageID)
		if i < 0 {
			err = fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
			return
		}

		from, to := AnswerRun(s.conv.Messages, i)
		for _, msg := range s.conv.Messages[from:to] {
			s.gw.DeleteMessage(s.conv.ID, msg.ID)
		}

		// The stored preview must stop describing the deleted answer.
		after := s.conv.Clone()
		after.RemoveRange(from, to)
		after.RefreshPreview()
		after.Touch(s.now())
		s.gw.PutConversation(after)

		if saveErr := s.gw.Save(s.ctx); saveErr != nil {
			s.gw.Discard()
			s.logger.Warn("retry aborted", "message", messageID, "error", saveErr)
			err = fmt.Errorf("retry aborted: %w", saveErr)
			return
		}

		removed := s.conv.RemoveRange(from, to)
		s.conv.Preview, s.conv.LastEdited = after.Preview, after.LastEdited
		s.logger.Info("retrying answer", "message", messageID, "removed", len(removed))
		s.notify(UpdateRetry, assembler.StateIdle)
		h = s.start(from, true)
	})
	if !ok {
		return nil, ErrClosed
	}
	return h, err
}

// Snapshot returns a copy of the conversation.
func (s *Session) Snapshot() *model.Conversation {
	var conv *model.Conversation
	if !s.exec.do(func() { conv = s.conv.Clone() }) {
		return nil
	}
	return conv
}

// Live returns the live handle, or nil.
func (s *Session) Live() *RequestHandle {
	var h *RequestHandle
	s.exec.do(func() { h = s.live })
	return h
}

// Subscribe registers fn for updates and returns a function that removes
// it. fn runs on the session executor: it must not block and must not
// call back into the session.
func (s *Session) Subscribe(fn func(Update)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSu
	s.nextSu++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Close cancels the live request, stops the executor and waits for the
// read loop to exit.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.exec.do(s.cancelLive)
		s.exec.stop()
		s.cancel()
		s.wg.Wait()
		s.logger.Debug("session closed")
	})
	return nil
}

// =============================================================================
// EXECUTOR-SIDE HELPERS
// =============================================================================

// start begins a turn with its placeholder at position at and launches the
// read loop. Runs on the executor.
func (s *Session) start(at int, retry bool) *RequestHandle {
	s.nextID++
	ctx, cancel := context.WithCancel(s.ctx)
	h := newHandle(s, s.nextID, retry, cancel)

	turn := assembler.BeginAt(s.conv, s.gw, at, s.cfg.Assembler)
	s.live, s.turn = h, turn

	name := s.cfg.Provider.Name()
	if s.cfg.Observer != nil {
		s.cfg.Observer.TurnStarted(name, retry)
	}
	s.notify(UpdateStarted, turn.State())

	req, err := s.cfg.Provider.BuildRequest(ctx, provider.Request{
		ConversationID: s.conv.ID,
		Messages:       s.conv.HistoryBefore(at, s.conv.Params.MaxHistory),
		Params:         s.conv.Params,
		Canvas:         s.conv.Canvas,
	})
	if err != nil {
		s.logger.Error("build request failed", "error", err)
		s.finishLive(h, err)
		return h
	}

	s.wg.Add(1)
	go s.read(ctx, h, req)
	return h
}

// checkRetryable validates a retry target. Runs on the executor.
func (s *Session) checkRetryable(messageID string) error {
	msg := s.conv.MessageByID(messageID)
	if msg == nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if !msg.Role.IsAnswer() {
		return fmt.Errorf("%w: %s", ErrNotRetryable, messageID)
	}
	return nil
}

// cancelLive interrupts the live turn. Runs on the executor.
func (s *Session) cancelLive() {
	h := s.live
	if h == nil {
		return
	}
	h.markCancelled()
	out := s.turn.Interrupt(s.ctx)
	s.complete(h, out, UpdateCancelled)
}

// cancelHandle cancels h if it is still live.
func (s *Session) cancelHandle(h *RequestHandle) {
	ok := s.exec.do(func() {
		if s.live == h {
			s.cancelLive()
		}
	})
	if !ok {
		h.markCancelled()
	}
}

// finishLive ends the live turn after the stream ended. Runs on the executor.
func (s *Session) finishLive(h *RequestHandle, streamErr error) {
	if s.live != h {
		return
	}
	h.setState(assembler.StateFinalizing)
	out := s.turn.Finish(s.ctx, streamErr)
	s.complete(h, out, UpdateFinished)
}

// complete clears the live turn and releases the handle.
func (s *Session) complete(h *RequestHandle, out assembler.Outcome, reason UpdateReason) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.live, s.turn = nil, nil
	h.finish(out)

	if s.cfg.Observer != nil {
		s.cfg.Observer.TurnFinished(s.cfg.Provider.Name(), out)
	}
	s.notify(reason, out.State)
}

// now reads the session clock.
func (s *Session) now() time.Time {
	if s.cfg.Assembler.Now != nil {
		return s.cfg.Assembler.Now()
	}
	return time.Now()
}

// syncFailed surfaces a failed save as an unsaved information message.
func (s *Session) syncFailed(err error) {
	s.logger.Error("save failed", "error", err)
	s.conv.Append(model.NewInformationMessage(s.cfg.Assembler.Notices.SyncFailed(err)))
}

// notify delivers a snapshot to subscribers. Runs on the executor.
func (s *Session) notify(reason UpdateReason, state assembler.State) {
	s.subMu.Lock()
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	u := Update{Reason: reason, Conversation: s.conv.Clone(), State: state}
	for _, fn := range subs {
		fn(u)
	}
}
