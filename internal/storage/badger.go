// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// BADGER BACKEND
// =============================================================================

// Key layout:
//
//	conv/<conversationID>               conversation metadata (JSON)
//	msg/<conversationID>/<messageID>    message body (JSON)
const (
	convPrefix = "conv/"
	msgPrefix  = "msg/"
)

func convKey(id string) []byte { return []byte(convPrefix + id) }

func msgKey(convID, msgID string) []byte { return []byte(msgPrefix + convID + "/" + msgID) }

func msgConvPrefix(convID string) []byte { return []byte(msgPrefix + convID + "/") }

type badgerBackend struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens a Badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return newStore("badger", &badgerBackend{db: db}, logger), nil
}

func (b *badgerBackend) commit(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		parents := make(map[string]bool)
		for _, op := range ops {
			if err := b.apply(txn, op); err != nil {
				return err
			}
			if op.Kind == OpInsertMessage {
				parents[op.ConversationID] = true
			}
		}
		for convID := range parents {
			if _, err := txn.Get(convKey(convID)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("messages reference unknown conversation %s", convID)
				}
				return err
			}
		}
		return nil
	})
}

func (b *badgerBackend) apply(txn *badger.Txn, op Op) error {
	switch op.Kind {
	case OpPutConversation:
		body, err := encodeConversation(op.Conversation)
		if err != nil {
			return err
		}
		return txn.Set(convKey(op.ConversationID), body)

	case OpDeleteConversation:
		if err := deletePrefix(txn, msgConvPrefix(op.ConversationID)); err != nil {
			return err
		}
		return txn.Delete(convKey(op.ConversationID))

	case OpInsertMessage:
		body, err := encodeMessage(op.Message)
		if err != nil {
			return err
		}
		return txn.Set(msgKey(op.ConversationID, op.MessageID), body)

	case OpDeleteMessage:
		return txn.Delete(msgKey(op.ConversationID, op.MessageID))
	}
	return nil
}

// deletePrefix removes every key under prefix within txn.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerBackend) messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var out []*model.Message
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := msgConvPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var msg *model.Message
			err := it.Item().Value(func(val []byte) error {
				var derr error
				msg, derr = decodeMessage(val)
				return derr
			})
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	return out, err
}

func (b *badgerBackend) conversations(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(convPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var conv *model.Conversation
			err := it.Item().Value(func(val []byte) error {
				var derr error
				conv, derr = decodeConversation(val)
				return derr
			})
			if err != nil {
				return err
			}
			out = append(out, conv)
		}
		return nil
	})
	return out, err
}

func (b *badgerBackend) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(convKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			conv, derr = decodeConversation(val)
			return derr
		})
	})
	return conv, err
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}
