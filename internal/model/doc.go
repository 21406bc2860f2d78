// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the stream assembler,
// the session controller and the persistence gateway.
//
// # Key Types
//
//   - Conversation: Ordered messages plus title, preview, canvas and parameters
//   - Message: One entry with independently settable content channels
//   - Role: Message role enumeration (user, assistant, information, search, error)
//   - GenerationParams: Sampling settings validated with struct tags
//   - Statistics: Timing of one streamed answer
//
// # Usage
//
// Create a conversation and add a user message:
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserMessage("Hello!", nil, nil))
//
// Messages inserted mid-list get a timestamp between their neighbours:
//
//	conv.InsertBefore(answer.ID, model.NewMessage(model.RoleSearch, ""))
package model
