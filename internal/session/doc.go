// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs streaming turns against a conversation.
//
// A Session owns one conversation. SendMessage appends the user message
// and streams the answer, Cancel stops it, and Retry replaces an answer
// with a fresh one. At most one request per session is live; starting a
// new one cancels the old one first.
//
// All conversation mutations run on a single executor goroutine. The
// transport read loop runs on its own goroutine and hands each batch of
// normalized events to the executor, so events are applied in the order
// they were received.
//
// # Key Types
//
//   - Session: One conversation with its live request
//   - RequestHandle: One in-flight streaming call
//   - Manager: Opens sessions on demand and closes idle ones
//   - Update: Conversation snapshot delivered to subscribers
//
// # Usage
//
//	s := session.New(conv, session.Config{Provider: p, Store: store})
//	defer s.Close()
//
//	h, err := s.SendMessage(ctx, session.Input{Text: "Hello"})
//	if err != nil {
//		return err
//	}
//	out, _ := h.Wait(ctx)
//	fmt.Println(out.State)
package session
