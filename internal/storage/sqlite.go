// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// SQLITE BACKEND
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	last_edited INTEGER NOT NULL,
	body        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	ts              INTEGER NOT NULL,
	group_id        TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts);
CREATE INDEX IF NOT EXISTS idx_conversations_edited ON conversations(last_edited);
`

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return newStore("sqlite", &sqliteBackend{db: db}, logger), nil
}

func (b *sqliteBackend) commit(ctx context.Context, ops []Op) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	parents := make(map[string]bool)
	for _, op := range ops {
		if err := b.apply(ctx, tx, op); err != nil {
			return err
		}
		if op.Kind == OpInsertMessage {
			parents[op.ConversationID] = true
		}
	}

	// Every inserted message must belong to a stored conversation once the
	// whole batch is applied.
	for convID := range parents {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, convID).Scan(&n); err != nil {
			return fmt.Errorf("check conversation %s: %w", convID, err)
		}
		if n == 0 {
			return fmt.Errorf("messages reference unknown conversation %s", convID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *sqliteBackend) apply(ctx context.Context, tx *sql.Tx, op Op) error {
	switch op.Kind {
	case OpPutConversation:
		body, err := encodeConversation(op.Conversation)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, last_edited, body) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				last_edited = excluded.last_edited, body = excluded.body`,
			op.ConversationID, op.Conversation.Title, op.Conversation.LastEdited.UnixNano(), string(body))
		if err != nil {
			return fmt.Errorf("put conversation %s: %w", op.ConversationID, err)
		}

	case OpDeleteConversation:
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, op.ConversationID); err != nil {
			return fmt.Errorf("delete messages of %s: %w", op.ConversationID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, op.ConversationID); err != nil {
			return fmt.Errorf("delete conversation %s: %w", op.ConversationID, err)
		}

	case OpInsertMessage:
		body, err := encodeMessage(op.Message)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, ts, group_id, body) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET conversation_id = excluded.conversation_id, role = excluded.role,
				ts = excluded.ts, group_id = excluded.group_id, body = excluded.body`,
			op.MessageID, op.ConversationID, op.Message.Role.String(),
			op.Message.Timestamp.UnixNano(), op.Message.GroupID, string(body))
		if err != nil {
			return fmt.Errorf("insert message %s: %w", op.MessageID, err)
		}

	case OpDeleteMessage:
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND conversation_id = ?`,
			op.MessageID, op.ConversationID); err != nil {
			return fmt.Errorf("delete message %s: %w", op.MessageID, err)
		}
	}
	return nil
}

func (b *sqliteBackend) messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE conversation_id = ? ORDER BY ts`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		msg, err := decodeMessage([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) conversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT body FROM conversations ORDER BY last_edited DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		conv, err := decodeConversation([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM conversations WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeConversation([]byte(body))
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
