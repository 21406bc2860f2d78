// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport opens streaming HTTP responses and splits them into
// raw frames.
//
// Two framings are supported: Server-Sent Events, used by OpenAI-compatible
// endpoints and the relay gateway, and newline-delimited JSON, used by Ollama.
// Streams are lazy and cancellable. Cancelling the context passed to Open, or
// calling Close, closes the response body so a blocked read returns promptly.
//
// # Key Types
//
//   - Client: Opens a Stream for a prepared *http.Request
//   - Stream: Pull-based frame iterator with Next and Close
//   - RawEvent: One undecoded frame
//   - TransportError: Network, HTTP status and decode failures
//
// # Usage
//
//	s, err := transport.NewClient().Open(ctx, req, transport.FramingSSE)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for {
//	    ev, err := s.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	}
package transport
