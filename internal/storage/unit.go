// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Unit stages changes for one writer and commits them to its Store. A
// session keeps one Unit for its lifetime; one-off writers call Begin per
// operation. Units on the same Store never see each other's staged changes.
type Unit struct {
	store *Store

	mu      sync.Mutex
	pending []Op
}

var _ Gateway = (*Unit)(nil)

// InsertMessage stages an insert, replacing any stored message with the
// same ID. Transient streaming state is not stored.
func (u *Unit) InsertMessage(msg *model.Message) {
	snap := msg.Clone()
	snap.Status = ""
	snap.StatusDetail = ""
	snap.Streaming = false
	u.stage(Op{
		Kind:           OpInsertMessage,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Message:        snap,
	})
}

// DeleteMessage stages a message delete.
func (u *Unit) DeleteMessage(conversationID, messageID string) {
	u.stage(Op{Kind: OpDeleteMessage, ConversationID: conversationID, MessageID: messageID})
}

// PutConversation stages the conversation's metadata. Messages are not
// written; use InsertMessage for those.
func (u *Unit) PutConversation(conv *model.Conversation) {
	meta := *conv
	meta.Messages = nil
	if conv.Canvas != nil {
		canvas := *conv.Canvas
		meta.Canvas = &canvas
	}
	u.stage(Op{Kind: OpPutConversation, ConversationID: conv.ID, Conversation: &meta})
}

// DeleteConversation stages removal of a conversation and its messages.
func (u *Unit) DeleteConversation(id string) {
	u.stage(Op{Kind: OpDeleteConversation, ConversationID: id})
}

func (u *Unit) stage(op Op) {
	u.mu.Lock()
	u.pending = append(u.pending, op)
	u.mu.Unlock()
}

// Pending returns the number of staged changes.
func (u *Unit) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Save commits this unit's staged changes atomically. On failure nothing
// is applied and the staged changes are dropped, so the next Save does not
// replay a rejected batch.
func (u *Unit) Save(ctx context.Context) error {
	u.mu.Lock()
	ops := u.pending
	u.pending = nil
	u.mu.Unlock()
	return u.store.commit(ctx, ops)
}

// Discard drops this unit's staged changes.
func (u *Unit) Discard() {
	u.mu.Lock()
	u.pending = nil
	u.mu.Unlock()
}

// FetchMessages reads committed messages from the store.
func (u *Unit) FetchMessages(ctx context.Context, conversationID string, pred MessagePredicate) ([]*model.Message, error) {
	return u.store.FetchMessages(ctx, conversationID, pred)
}

// FetchConversations reads committed conversations from the store.
func (u *Unit) FetchConversations(ctx context.Context, pred ConversationPredicate) ([]*model.Conversation, error) {
	return u.store.FetchConversations(ctx, pred)
}

// LoadConversation reads a committed conversation from the store.
func (u *Unit) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return u.store.LoadConversation(ctx, id)
}
