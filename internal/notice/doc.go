// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notice renders the user-facing strings the engine writes into
// conversations: reasoning-time labels, error notices and status messages.
//
// Messages are looked up in a golang.org/x/text catalog. English is the
// fallback; Spanish and German are bundled.
//
// # Usage
//
//	n := notice.New("es")
//	label := n.ReasoningElapsed(2 * time.Second) // "Pensó durante 2,0 s"
package notice
