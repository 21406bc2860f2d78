// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the closed set of model providers.
//
// Each provider builds the HTTP request for a turn and supplies a Normalizer
// that maps raw transport frames to stream events. Normalizers are total:
// frames that fail to decode are dropped rather than ending the stream.
// Inline <think> markup is routed to reasoning deltas for every provider,
// including tags split across frames.
//
// # Providers
//
//   - openai: OpenAI-compatible /chat/completions over SSE (go-openai types)
//   - ollama: Ollama /api/chat over NDJSON
//   - relay: The application gateway, streaming every event kind by name
//
// # Usage
//
//	p, err := provider.New(provider.Config{Name: "ollama", BaseURL: "http://localhost:11434", Model: "qwen3"})
//	req, err := p.BuildRequest(ctx, provider.Request{Messages: conv.History(20)})
//	norm := p.NewNormalizer()
//	for each frame {
//	    events := norm.Normalize(frame)
//	}
package provider
