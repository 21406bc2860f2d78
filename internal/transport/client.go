// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxChunkSize bounds one frame. Inline images make relay frames
	// far larger than plain text deltas.
	DefaultMaxChunkSize = 8 * 1024 * 1024

	// maxErrorBody bounds the body excerpt kept for non-2xx responses.
	maxErrorBody = 2048
)

// Framing selects how a response body is split into frames.
type Framing int

const (
	FramingSSE Framing = iota
	FramingNDJSON
)

// String returns the framing name.
func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingNDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

// RawEvent is one undecoded frame. Event is the SSE event name, empty for
// unnamed SSE events and for NDJSON lines.
type RawEvent struct {
	Event string
	Data  []byte
}

// =============================================================================
// CLIENT
// =============================================================================

// defaultStreamingClient has no overall timeout; streams are bounded by
// their context.
var defaultStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Client opens response streams.
type Client struct {
	http         *http.Client
	logger       *slog.Logger
	maxChunkSize int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMaxChunkSize bounds the size of a single frame.
func WithMaxChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChunkSize = n
		}
	}
}

// NewClient creates a transport client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:         defaultStreamingClient,
		logger:       slog.Default(),
		maxChunkSize: DefaultMaxChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport")
	return c
}

// Open sends req and returns a stream over its body. The stream is bound to
// ctx: cancelling ctx closes the body and ends the stream.
//
// Failures are *TransportError values, except that a cancelled ctx is
// reported as ctx.Err().
func (c *Client) Open(ctx context.Context, req *http.Request, framing Framing) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req = req.Clone(ctx)

	switch framing {
	case FramingSSE:
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	case FramingNDJSON:
		req.Header.Set("Accept", "application/x-ndjson")
	}

	c.logger.Debug("opening stream", "method", req.Method, "url", req.URL.Redacted(), "framing", framing.String())

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		c.logger.Warn("stream rejected", "status", resp.StatusCode)
		return nil, &TransportError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var r frameReader
	switch framing {
	case FramingNDJSON:
		r = newNDJSONReader(resp.Body, c.maxChunkSize)
	default:
		r = newSSEReader(resp.Body, c.maxChunkSize)
	}
	return newStream(ctx, cancel, resp.Body, r, c.logger), nil
}
