// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
	require.NoError(t, err)
	return req
}

func collect(t *testing.T, s *Stream) ([]RawEvent, error) {
	t.Helper()
	var out []RawEvent
	for {
		ev, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_ParsesEvents(t *testing.T) {
	input := ": keep-alive\n" +
		"data: {\"a\":1}\n\n" +
		"event: search\n" +
		"data: line1\n" +
		"data: line2\n\n" +
		"id: 7\n" +
		"data:nospace\n\n" +
		"data: [DONE]\n\n" +
		"data: after\n\n"

	r := newSSEReader(strings.NewReader(input), 1024)

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, RawEvent{Data: []byte(`{"a":1}`)}, ev)

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "search", ev.Event)
	assert.Equal(t, "line1\nline2", string(ev.Data))

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "", ev.Event)
	assert.Equal(t, "nospace", string(ev.Data))

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEReader_FlushesTrailingEventAtEOF(t *testing.T) {
	r := newSSEReader(strings.NewReader("data: tail"), 1024)

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(ev.Data))

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEReader_CRLF(t *testing.T) {
	r := newSSEReader(strings.NewReader("data: x\r\n\r\n"), 1024)
	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "x", string(ev.Data))
}

func TestSSEReader_ChunkTooLarge(t *testing.T) {
	r := newSSEReader(strings.NewReader("data: "+strings.Repeat("x", 100)+"\n\n"), 32)
	_, err := r.next()
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

// =============================================================================
// NDJSON READER TESTS
// =============================================================================

func TestNDJSONReader_SkipsBlankLines(t *testing.T) {
	r := newNDJSONReader(strings.NewReader("{\"a\":1}\n\n  \n{\"b\":2}"), 1024)

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(ev.Data))

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestClient_OpenSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: one\n\ndata: two\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	s, err := NewClient().Open(context.Background(), newRequest(t, server.URL), FramingSSE)
	require.NoError(t, err)
	defer s.Close()

	events, err := collect(t, s)
	assert.Equal(t, io.EOF, err)
	require.Len(t, events, 2)
	assert.Equal(t, "two", string(events[1].Data))
	assert.Equal(t, 2, s.Frames())

	// Terminal error is sticky.
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestClient_OpenNDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"message\":{\"content\":\"Hi\"}}\n{\"done\":true}\n")
	}))
	defer server.Close()

	s, err := NewClient().Open(context.Background(), newRequest(t, server.URL), FramingNDJSON)
	require.NoError(t, err)
	defer s.Close()

	events, err := collect(t, s)
	assert.Equal(t, io.EOF, err)
	assert.Len(t, events, 2)
}

func TestClient_HTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient().Open(context.Background(), newRequest(t, server.URL), FramingSSE)
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindHTTPStatus, te.Kind)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "bad key", te.Body)
	assert.True(t, IsKind(err, KindHTTPStatus))
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient().Open(context.Background(), newRequest(t, url), FramingSSE)
	assert.True(t, IsKind(err, KindNetwork), "got %v", err)
}

func TestClient_DecodeErrorOnOversizedFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 256)+"\n")
	}))
	defer server.Close()

	s, err := NewClient(WithMaxChunkSize(64)).Open(context.Background(), newRequest(t, server.URL), FramingNDJSON)
	require.NoError(t, err)

	_, err = s.Next()
	assert.True(t, IsKind(err, KindDecode), "got %v", err)
}

func TestStream_CancelUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewClient().Open(ctx, newRequest(t, server.URL), FramingSSE)
	require.NoError(t, err)

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", string(ev.Data))

	done := make(chan error, 1)
	go func() {
		_, err := s.Next()
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}

	_, err = s.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_CloseEndsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	s, err := NewClient().Open(context.Background(), newRequest(t, server.URL), FramingSSE)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Next()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestClient_OpenCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient().Open(ctx, newRequest(t, server.URL), FramingSSE)
	assert.ErrorIs(t, err, context.Canceled)
}
