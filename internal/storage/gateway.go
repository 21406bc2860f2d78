// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the persistence gateway for conversations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	// Use errors.Is(err, ErrConversationNotFound) to check for this error.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown storage driver")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// PersistenceError reports a failed commit or fetch.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// =============================================================================
// GATEWAY
// =============================================================================

// MessagePredicate filters fetched messages. A nil predicate matches all.
type MessagePredicate func(*model.Message) bool

// ConversationPredicate filters fetched conversations. A nil predicate
// matches all.
type ConversationPredicate func(*model.Conversation) bool

// Reader answers queries against committed state.
type Reader interface {
	FetchMessages(ctx context.Context, conversationID string, pred MessagePredicate) ([]*model.Message, error)
	FetchConversations(ctx context.Context, pred ConversationPredicate) ([]*model.Conversation, error)
	LoadConversation(ctx context.Context, id string) (*model.Conversation, error)
}

// Gateway is the persistence contract used by the session controller.
//
// InsertMessage, DeleteMessage, PutConversation and DeleteConversation only
// stage changes. Save commits everything staged through this gateway since
// its last Save or Discard as one atomic unit. Changes staged through other
// gateways on the same store are neither committed nor dropped.
type Gateway interface {
	Reader

	InsertMessage(msg *model.Message)
	DeleteMessage(conversationID, messageID string)
	PutConversation(conv *model.Conversation)
	DeleteConversation(id string)
	Save(ctx context.Context) error
	Discard()
}

// OpKind identifies a staged change.
type OpKind int

const (
	OpInsertMessage OpKind = iota
	OpDeleteMessage
	OpPutConversation
	OpDeleteConversation
)

// Op is one staged change. Message and Conversation are snapshots taken
// when the change was staged.
type Op struct {
	Kind           OpKind
	ConversationID string
	MessageID      string
	Message        *model.Message
	Conversation   *model.Conversation
}

// backend commits staged ops atomically and answers reads.
type backend interface {
	commit(ctx context.Context, ops []Op) error
	messages(ctx context.Context, conversationID string) ([]*model.Message, error)
	conversations(ctx context.Context) ([]*model.Conversation, error)
	conversation(ctx context.Context, id string) (*model.Conversation, error)
	close() error
}

// =============================================================================
// STORE
// =============================================================================

// Store reads committed state from a backend and hands out units of work
// that write to it. Each writer stages through its own Unit from Begin.
type Store struct {
	driver string
	b      backend
	logger *slog.Logger

	mu     sync.Mutex
	hook   func([]Op) error
	closed bool
}

func newStore(driver string, b backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		driver: driver,
		b:      b,
		logger: logger.With("component", "storage", "driver", driver),
	}
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.driver
}

// BeforeCommit installs a hook that sees every batch before it is committed.
// A non-nil error from the hook fails the Save without touching the backend.
func (s *Store) BeforeCommit(hook func([]Op) error) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// Begin returns a new unit of work on the store.
func (s *Store) Begin() *Unit {
	return &Unit{store: s}
}

// commit applies one batch atomically.
func (s *Store) commit(ctx context.Context, ops []Op) error {
	s.mu.Lock()
	hook := s.hook
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return &PersistenceError{Op: "save", Err: ErrClosed}
	}
	if len(ops) == 0 {
		return nil
	}
	if hook != nil {
		if err := hook(ops); err != nil {
			s.logger.Warn("commit rejected", "ops", len(ops), "error", err)
			return &PersistenceError{Op: "save", Err: err}
		}
	}
	if err := s.b.commit(ctx, ops); err != nil {
		s.logger.Error("commit failed", "ops", len(ops), "error", err)
		return &PersistenceError{Op: "save", Err: err}
	}
	s.logger.Debug("committed", "ops", len(ops))
	return nil
}

// FetchMessages returns a conversation's stored messages in timestamp order.
func (s *Store) FetchMessages(ctx context.Context, conversationID string, pred MessagePredicate) ([]*model.Message, error) {
	msgs, err := s.b.messages(ctx, conversationID)
	if err != nil {
		return nil, &PersistenceError{Op: "fetch messages", Err: err}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	if pred == nil {
		return msgs, nil
	}
	out := msgs[:0]
	for _, m := range msgs {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// FetchConversations returns conversation metadata, most recently edited
// first. Messages are not loaded.
func (s *Store) FetchConversations(ctx context.Context, pred ConversationPredicate) ([]*model.Conversation, error) {
	convs, err := s.b.conversations(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "fetch conversations", Err: err}
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].LastEdited.After(convs[j].LastEdited) })
	if pred == nil {
		return convs, nil
	}
	out := convs[:0]
	for _, c := range convs {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// LoadConversation returns a conversation with its messages.
func (s *Store) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.b.conversation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load conversation", Err: err}
	}
	msgs, err := s.FetchMessages(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// Close releases the backend. Later saves fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.b.close()
}

// =============================================================================
// PREDICATES
// =============================================================================

// ByRole matches messages with any of the given roles.
func ByRole(roles ...model.Role) MessagePredicate {
	return func(m *model.Message) bool {
		for _, r := range roles {
			if m.Role == r {
				return true
			}
		}
		return false
	}
}

// ByGroup matches messages of one answer group.
func ByGroup(groupID string) MessagePredicate {
	return func(m *model.Message) bool { return m.GroupID == groupID }
}

// TitleContains matches conversations whose title contains substr,
// ignoring case.
func TitleContains(substr string) ConversationPredicate {
	return func(c *model.Conversation) bool { return containsFold(c.Title, substr) }
}
