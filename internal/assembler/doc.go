// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assembler folds a normalized event stream into a conversation.
//
// A Turn owns one answer from dispatch to commit. Begin inserts a streaming
// placeholder, Apply folds each stream.Event into the current message, and
// Finish or Interrupt ends the turn and commits it through the storage
// gateway with a single Save.
//
// Flushes are throttled per message: a flush advances the message Version
// and stamps UpdatedAt, at most once per FlushInterval. Changes made between
// flushes are kept and picked up by the next one.
//
// # Key Types
//
//   - Turn: Lifecycle of one streamed answer
//   - State: Idle, Dispatched, Streaming, Finalizing and the terminal states
//   - Outcome: Final state, cause and sync result of a turn
//
// # Usage
//
//	turn := assembler.Begin(conv, store, assembler.Options{})
//	for ev := range events {
//		turn.Apply(ctx, ev)
//	}
//	out := turn.Finish(ctx, streamErr)
package assembler
