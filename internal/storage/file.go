// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// fileBackend stores each conversation, messages included, as one JSON
// document. A commit computes every new document before writing any, and
// each document is replaced atomically.
type fileBackend struct {
	dir string
	mu  sync.Mutex
}

// fileDocument is the on-disk layout of one conversation.
type fileDocument struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []*model.Message    `json:"messages"`
}

// OpenFile opens a directory of JSON conversation files.
func OpenFile(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	return newStore("file", &fileBackend{dir: dir}, logger), nil
}

func (f *fileBackend) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *fileBackend) read(id string) (*fileDocument, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	if doc.Conversation == nil {
		return nil, fmt.Errorf("decode %s: missing conversation", id)
	}
	return &doc, nil
}

func (f *fileBackend) commit(ctx context.Context, ops []Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	docs := make(map[string]*fileDocument) // nil value means delete
	load := func(id string) (*fileDocument, error) {
		if doc, ok := docs[id]; ok {
			return doc, nil
		}
		doc, err := f.read(id)
		if errors.Is(err, ErrConversationNotFound) {
			return nil, nil
		}
		return doc, err
	}

	for _, op := range ops {
		doc, err := load(op.ConversationID)
		if err != nil {
			return err
		}
		switch op.Kind {
		case OpPutConversation:
			if doc == nil {
				doc = &fileDocument{}
			}
			doc.Conversation = op.Conversation
		case OpDeleteConversation:
			doc = nil
		case OpInsertMessage:
			if doc == nil {
				doc = &fileDocument{}
			}
			doc.Messages = upsertMessage(doc.Messages, op.Message)
		case OpDeleteMessage:
			if doc != nil {
				doc.Messages = removeMessage(doc.Messages, op.MessageID)
			}
		}
		docs[op.ConversationID] = doc
	}

	for id, doc := range docs {
		if doc != nil && doc.Conversation == nil {
			return fmt.Errorf("messages reference unknown conversation %s", id)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, doc := range docs {
		if doc == nil {
			if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", id, err)
			}
			continue
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", id, err)
		}
		if err := util.AtomicWriteFile(f.path(id), data, 0600); err != nil {
			return err
		}
	}
	return nil
}

func upsertMessage(msgs []*model.Message, msg *model.Message) []*model.Message {
	for i, m := range msgs {
		if m.ID == msg.ID {
			msgs[i] = msg
			return msgs
		}
	}
	return append(msgs, msg)
}

func removeMessage(msgs []*model.Message, id string) []*model.Message {
	for i, m := range msgs {
		if m.ID == id {
			return append(msgs[:i], msgs[i+1:]...)
		}
	}
	return msgs
}

func (f *fileBackend) messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read(conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

func (f *fileBackend) conversations(ctx context.Context) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []*model.Conversation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		doc, err := f.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip unreadable files so one bad document does not hide the rest
			continue
		}
		out = append(out, doc.Conversation)
	}
	return out, nil
}

func (f *fileBackend) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read(id)
	if err != nil {
		return nil, err
	}
	return doc.Conversation, nil
}

func (f *fileBackend) close() error {
	return nil
}
