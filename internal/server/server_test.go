// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/logging"
	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/provider"
	"github.com/jeranaias/threadline/internal/session"
	"github.com/jeranaias/threadline/internal/storage"
	"github.com/jeranaias/threadline/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.(http.Flusher).Flush()
}

// relay streams the given deltas in the relay SSE format.
func relay(texts ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range texts {
			data, _ := json.Marshal(map[string]string{"text": text})
			writeEvent(w, "contentDelta", string(data))
		}
		writeEvent(w, "done", "{}")
	}
}

type fixture struct {
	t       *testing.T
	server  *Server
	manager *session.Manager
	store   *storage.Store
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, backend http.Handler, mutate func(*Options)) *fixture {
	t.Helper()
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	p, err := provider.New(provider.Config{Name: "relay", BaseURL: upstream.URL, Model: "test"})
	require.NoError(t, err)

	store := storage.NewMemory(nil)
	metrics := telemetry.NewMetrics()
	logger := logging.Discard()

	cfg := session.DefaultManagerConfig()
	cfg.Session = session.Config{
		Provider:  p,
		Store:     store,
		Assembler: assembler.Options{FlushInterval: time.Millisecond},
		Observer:  metrics,
		Logger:    logger,
	}
	manager := session.NewManager(cfg)
	metrics.TrackSessions(manager.Count)

	opts := Options{Metrics: metrics, Logger: logger}
	if mutate != nil {
		mutate(&opts)
	}
	t.Cleanup(func() {
		_ = manager.Close()
		_ = store.Close()
	})
	return &fixture{t: t, server: New(manager, opts), manager: manager, store: store, metrics: metrics}
}

func (f *fixture) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			r = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			require.NoError(f.t, err)
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create() *model.Conversation {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/conversations", nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv model.Conversation
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &conv))
	return &conv
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// CONVERSATION ROUTES
// =============================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t, relay("pong"), nil)
	rec := f.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestSendMessage_WaitReturnsOutcome(t *testing.T) {
	f := newFixture(t, relay("Hel", "lo"), nil)
	conv := f.create()

	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages?wait=true", sendRequest{Text: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	turn := decode[turnResponse](t, rec)
	assert.Equal(t, "committed", turn.State)
	assert.Empty(t, turn.Error)
	require.NotNil(t, turn.Conversation)
	require.Len(t, turn.Conversation.Messages, 2)
	assert.Equal(t, "Hello", turn.Conversation.Messages[1].Text)

	stored, err := f.store.FetchMessages(context.Background(), conv.ID, nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSendMessage_AcceptedThenVisible(t *testing.T) {
	f := newFixture(t, relay("done"), nil)
	conv := f.create()

	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", sendRequest{Text: "Hi"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	turn := decode[turnResponse](t, rec)
	assert.Equal(t, conv.ID, turn.ConversationID)
	assert.NotZero(t, turn.RequestID)

	require.Eventually(t, func() bool {
		got := decode[model.Conversation](t, f.do(http.MethodGet, "/v1/conversations/"+conv.ID, nil))
		return len(got.Messages) == 2 && got.Messages[1].Text == "done"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t, relay("x"), nil)
	conv := f.create()

	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", sendRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/conversations/missing/messages", sendRequest{Text: "Hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	params := model.DefaultParams()
	params.Temperature = 9
	rec = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		sendRequest{Text: "Hi", Params: &params})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetry(t *testing.T) {
	f := newFixture(t, relay("answer"), nil)
	conv := f.create()

	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages?wait=true", sendRequest{Text: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[turnResponse](t, rec)
	answerID := first.Conversation.Messages[1].ID
	userID := first.Conversation.Messages[0].ID

	rec = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages/"+answerID+"/retry?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	retried := decode[turnResponse](t, rec)
	assert.True(t, retried.Retry)
	assert.Equal(t, "committed", retried.State)
	require.Len(t, retried.Conversation.Messages, 2)
	assert.NotEqual(t, answerID, retried.Conversation.Messages[1].ID)

	rec = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages/"+userID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages/nope/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel_WithoutLiveRequest(t *testing.T) {
	f := newFixture(t, relay("x"), nil)
	conv := f.create()

	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["cancelled"])
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t, relay("x"), nil)
	a := f.create()
	f.create()

	list := decode[struct {
		Conversations []model.ConversationMeta `json:"conversations"`
	}](t, f.do(http.MethodGet, "/v1/conversations", nil))
	assert.Len(t, list.Conversations, 2)

	rec := f.do(http.MethodDelete, "/v1/conversations/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/v1/conversations/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodDelete, "/v1/conversations/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t, relay("Paris"), nil)
	conv := f.create()
	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages?wait=true", sendRequest{Text: "Capital of France?"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/v1/conversations/"+conv.ID+"/export?format=transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".txt")
	assert.Contains(t, rec.Body.String(), "You: Capital of France?")
	assert.Contains(t, rec.Body.String(), "Assistant: Paris")

	rec = f.do(http.MethodGet, "/v1/conversations/"+conv.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	transcript := []byte("You: Hi\n\nAssistant: Hello there\n")
	rec = f.do(http.MethodPost, "/v1/conversations/import?format=transcript", transcript)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	imported := decode[model.Conversation](t, rec)
	require.Len(t, imported.Messages, 2)
	assert.Equal(t, "Hello there", imported.Messages[1].Text)

	rec = f.do(http.MethodGet, "/v1/conversations/"+imported.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusAndMetrics(t *testing.T) {
	f := newFixture(t, relay("x"), nil)
	conv := f.create()
	rec := f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/messages?wait=true", sendRequest{Text: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[struct {
		Sessions []statusEntry `json:"sessions"`
	}](t, f.do(http.MethodGet, "/v1/status", nil))
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, conv.ID, status.Sessions[0].ConversationID)

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "threadline_turns_finished_total")
	assert.Contains(t, rec.Body.String(), "threadline_sessions 1")
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, relay("x"), func(o *Options) {
		o.Auth = &AuthConfig{Token: "secret"}
	})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/conversations", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodGet, "/v1/conversations", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/v1/conversations", nil, "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/conversations?access_token=secret", nil).Code)
}

func TestAuthMiddleware_IPAllowlist(t *testing.T) {
	f := newFixture(t, relay("x"), func(o *Options) {
		o.Auth = &AuthConfig{AllowedIPs: []string{"10.1.0.0/16"}}
	})
	// httptest requests come from 192.0.2.1.
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/conversations", nil).Code)

	cfg := &AuthConfig{AllowedIPs: []string{"10.1.0.0/16", "192.0.2.1", "bogus"}}
	logger := logging.Discard()
	assert.True(t, cfg.isIPAllowed("10.1.2.3", logger))
	assert.True(t, cfg.isIPAllowed("192.0.2.1", logger))
	assert.False(t, cfg.isIPAllowed("10.2.0.1", logger))
	assert.False(t, cfg.isIPAllowed("not-an-ip", logger))
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

func TestCORSMiddleware(t *testing.T) {
	f := newFixture(t, relay("x"), func(o *Options) {
		o.AllowedOrigins = []string{"http://app.local", "*.example.com"}
	})

	rec := f.do(http.MethodOptions, "/v1/conversations", nil, "Origin", "http://app.local")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/health", nil, "Origin", "https://ui.example.com")
	assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/health", nil, "Origin", "http://evil.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 0, rl.Remaining("a"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"))

	// idle visitors are forgotten after a window
	now = now.Add(2 * time.Minute)
	rl.Allow("c")
	rl.mu.Lock()
	_, kept := rl.visitors["b"]
	rl.mu.Unlock()
	assert.False(t, kept)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, relay("x"), func(o *Options) { o.RateLimit = 1 })

	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRecoveryMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(RecoveryMiddleware(logging.Discard()))
	engine.GET("/panic", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func TestWebSocket_StreamsUpdatesAndOutcome(t *testing.T) {
	f := newFixture(t, relay("Hel", "lo"), nil)
	conv := f.create()

	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/conversations/" + conv.ID + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first wsFrame
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Conversation)
	assert.Equal(t, conv.ID, first.Conversation.ID)

	require.NoError(t, ws.WriteJSON(wsRequest{Action: "send", Text: "Hi"}))

	var (
		accepted bool
		outcome  *turnResponse
		updates  int
	)
	for outcome == nil {
		var f wsFrame
		require.NoError(t, ws.ReadJSON(&f))
		switch f.Type {
		case "accepted":
			accepted = true
		case "update":
			updates++
		case "outcome":
			outcome = f.Turn
		case "error":
			t.Fatalf("unexpected error frame: %s", f.Error)
		}
	}
	assert.True(t, accepted)
	assert.Positive(t, updates)
	assert.Equal(t, "committed", outcome.State)

	require.NoError(t, ws.WriteJSON(wsRequest{Action: "jump"}))
	var errFrame wsFrame
	for errFrame.Type != "error" {
		require.NoError(t, ws.ReadJSON(&errFrame))
	}
	assert.Contains(t, errFrame.Error, "unknown action")
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, relay("x"), nil)
	conv := f.create()

	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/conversations/" + conv.ID + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t, relay("x"), func(o *Options) { o.Addr = "127.0.0.1:0" })

	errc := make(chan error, 1)
	go func() { errc <- f.server.Start() }()

	require.Eventually(t, func() bool {
		f.server.mu.Lock()
		defer f.server.mu.Unlock()
		return f.server.server != nil
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	assert.NoError(t, <-errc)
}
