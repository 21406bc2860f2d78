// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream defines the normalized event union produced by provider
// normalizers and consumed by the conversation assembler.
//
// # Key Types
//
//   - Event: Sealed interface; one concrete type per variant
//   - Kind: Variant tag, stable across providers
//
// # Usage
//
//	switch ev := ev.(type) {
//	case stream.ContentDelta:
//	    msg.Text += ev.Text
//	case stream.TerminalError:
//	    return ev
//	}
package stream
