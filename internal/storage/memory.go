// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// memoryBackend keeps everything in maps. Commits build the next state on
// copies and swap it in, so a failed commit leaves the old state intact.
type memoryBackend struct {
	mu    sync.RWMutex
	convs map[string]*model.Conversation
	msgs  map[string]map[string]*model.Message // conversation ID -> message ID -> message
}

// NewMemory returns a Store that keeps data in memory only.
func NewMemory(logger *slog.Logger) *Store {
	return newStore("memory", &memoryBackend{
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string]map[string]*model.Message),
	}, logger)
}

func (m *memoryBackend) commit(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	convs := maps.Clone(m.convs)
	msgs := maps.Clone(m.msgs)
	touched := make(map[string]bool)
	inner := func(convID string) map[string]*model.Message {
		if !touched[convID] {
			msgs[convID] = maps.Clone(msgs[convID])
			if msgs[convID] == nil {
				msgs[convID] = make(map[string]*model.Message)
			}
			touched[convID] = true
		}
		return msgs[convID]
	}

	for _, op := range ops {
		switch op.Kind {
		case OpPutConversation:
			convs[op.ConversationID] = op.Conversation
		case OpDeleteConversation:
			delete(convs, op.ConversationID)
			delete(msgs, op.ConversationID)
			delete(touched, op.ConversationID)
		case OpInsertMessage:
			inner(op.ConversationID)[op.MessageID] = op.Message
		case OpDeleteMessage:
			delete(inner(op.ConversationID), op.MessageID)
		}
	}

	for convID := range touched {
		if _, ok := convs[convID]; !ok && len(msgs[convID]) > 0 {
			return fmt.Errorf("messages reference unknown conversation %s", convID)
		}
	}

	m.convs = convs
	m.msgs = msgs
	return nil
}

func (m *memoryBackend) messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Message, 0, len(m.msgs[conversationID]))
	for _, msg := range m.msgs[conversationID] {
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (m *memoryBackend) conversations(ctx context.Context) ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *memoryBackend) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c.Clone(), nil
}

func (m *memoryBackend) close() error {
	return nil
}
