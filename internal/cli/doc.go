// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the threadline command line.
//
// Commands share one App: it loads the config, applies flag overrides,
// builds the logger and opens the storage, provider and session manager
// on first use. Answers stream to stdout as they arrive; with colors
// enabled they are rendered as markdown once complete.
//
// # Commands
//
//   - chat: Interactive REPL with history and slash commands
//   - ask: One message, streamed answer
//   - retry: Regenerate an answer
//   - history: List, show, search and delete conversations
//   - export, import: Move conversations in and out as files
//   - serve: HTTP and WebSocket API with config hot reload
//   - config: Show, get and set configuration values
//   - version: Build information
//
// # Key Types
//
//   - App: Flags, config, logger and the opened engine
//   - Engine: Storage, provider, session manager and metrics
//   - ChatCLI: Line editing and input history for chat
//
// # Usage
//
//	func main() {
//		cli.Execute()
//	}
package cli
