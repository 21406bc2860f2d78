// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes conversation sessions over HTTP and WebSocket.
//
// Routes are served by gin on top of a session.Manager. Sending a message
// returns 202 with the request handle; the answer streams into the
// conversation and is visible through GET, the WebSocket feed, or by
// passing ?wait=true to block until the turn finishes.
//
// # Endpoints
//
//   - GET    /health                                    - liveness and open session count
//   - GET    /metrics                                   - Prometheus metrics, when enabled
//   - GET    /v1/status                                 - open sessions
//   - GET    /v1/conversations                          - list conversations
//   - POST   /v1/conversations                          - create a conversation
//   - POST   /v1/conversations/import?format=           - import a transcript, JSON, OpenAI or YAML body
//   - GET    /v1/conversations/:id                      - conversation snapshot
//   - DELETE /v1/conversations/:id                      - delete a conversation
//   - POST   /v1/conversations/:id/messages             - send a message
//   - POST   /v1/conversations/:id/cancel               - cancel the live request
//   - POST   /v1/conversations/:id/messages/:mid/retry  - regenerate an answer
//   - GET    /v1/conversations/:id/export?format=       - download an export
//   - GET    /v1/conversations/:id/ws                   - live updates and commands
//
// # Middleware
//
//   - Bearer token authentication with constant-time comparison
//   - IP allowlist for access control
//   - CORS headers for configured origins
//   - Per-IP token bucket rate limiting
//   - Security headers, request logging and panic recovery
//
// # Key Types
//
//   - Server: gin engine bound to a session manager
//   - Options: address, auth, CORS, rate limit and metrics
//   - RateLimiter: per-IP limiter built on golang.org/x/time/rate
//
// # Usage
//
//	srv := server.New(manager, server.Options{
//		Addr:    cfg.Server.Addr,
//		Auth:    &server.AuthConfig{Token: cfg.Server.Token},
//		Metrics: metrics,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
