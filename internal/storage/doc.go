// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the persistence gateway for conversations.
//
// A Store reads committed state and hands out units of work. Each writer
// takes its own Unit from Store.Begin, stages changes with InsertMessage,
// DeleteMessage, PutConversation and DeleteConversation, then commits them
// as one atomic batch with Save. Nothing is written implicitly. A failed
// Save returns a *PersistenceError, leaves the stored state as it was and
// drops that unit's batch; other units keep what they staged.
//
// # Key Types
//
//   - Store: backend handle, reads and Begin
//   - Unit: one writer's staged changes, implements Gateway
//   - PersistenceError: failed commit or fetch
//
// # Backends
//
//   - sqlite: modernc.org/sqlite, one transaction per Save
//   - badger: dgraph-io/badger/v4, one update transaction per Save
//   - file: one JSON document per conversation, replaced atomically
//   - memory: maps swapped on commit, for tests and ephemeral sessions
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Driver: "sqlite", Path: dbPath}, logger)
//	tx := store.Begin()
//	tx.PutConversation(conv)
//	tx.InsertMessage(msg)
//	if err := tx.Save(ctx); err != nil {
//	    var perr *storage.PersistenceError
//	    errors.As(err, &perr)
//	}
package storage
