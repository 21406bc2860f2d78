// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/export"
	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
	"github.com/jeranaias/threadline/internal/storage"
	"github.com/jeranaias/threadline/internal/telemetry"
)

// DefaultAddr is the listen address when Options.Addr is empty.
const DefaultAddr = "127.0.0.1:8787"

// maxBodyBytes bounds request bodies, attachments included.
const maxBodyBytes = 32 << 20

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server.
type Options struct {
	Addr string

	// Auth guards the /v1 routes. Nil leaves them open.
	Auth *AuthConfig

	// AllowedOrigins enables CORS for these origins.
	AllowedOrigins []string

	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int

	// Metrics, when set, is served on /metrics.
	Metrics *telemetry.Metrics

	// Export controls the export endpoint's output.
	Export *export.Options

	Logger *slog.Logger
}

// Server exposes a session.Manager over HTTP and WebSocket.
type Server struct {
	manager *session.Manager
	opts    Options
	logger  *slog.Logger
	engine  *gin.Engine
	started time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a server for manager.
func New(manager *session.Manager, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Export == nil {
		opts.Export = export.DefaultOptions()
	}

	s := &Server{
		manager: manager,
		opts:    opts,
		logger:  opts.Logger.With("component", "server"),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	engine := gin.New()
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		s.logger.Warn("trusted proxies rejected", "error", err)
	}
	engine.Use(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	)
	if len(s.opts.AllowedOrigins) > 0 {
		engine.Use(CORSMiddleware(DefaultCORSConfig(s.opts.AllowedOrigins)))
	}
	if s.opts.RateLimit > 0 {
		engine.Use(RateLimitMiddleware(NewRateLimiter(s.opts.RateLimit), s.logger))
	}

	engine.GET("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := engine.Group("/v1")
	if s.opts.Auth != nil {
		v1.Use(AuthMiddleware(s.opts.Auth, s.logger))
	}
	v1.GET("/status", s.handleStatus)
	v1.GET("/conversations", s.handleList)
	v1.POST("/conversations", s.handleCreate)
	v1.POST("/conversations/import", s.handleImport)
	v1.GET("/conversations/:id", s.handleGet)
	v1.DELETE("/conversations/:id", s.handleDelete)
	v1.POST("/conversations/:id/messages", s.handleSend)
	v1.POST("/conversations/:id/cancel", s.handleCancel)
	v1.POST("/conversations/:id/messages/:mid/retry", s.handleRetry)
	v1.GET("/conversations/:id/export", s.handleExport)
	v1.GET("/conversations/:id/ws", s.handleWebSocket)

	s.engine = engine
}

// ============================================================================
// REQUEST AND RESPONSE TYPES
// ============================================================================

type createRequest struct {
	Params *model.GenerationParams `json:"params"`
}

// sendRequest is the body of POST /messages. Images carry base64 data.
type sendRequest struct {
	Text      string                  `json:"text"`
	Images    []model.Image           `json:"images"`
	Documents []model.Document        `json:"documents"`
	Params    *model.GenerationParams `json:"params"`
}

// turnResponse describes a request handle, and its outcome once finished.
type turnResponse struct {
	RequestID      uint64              `json:"request_id"`
	ConversationID string              `json:"conversation_id"`
	Retry          bool                `json:"retry"`
	State          string              `json:"state"`
	Cause          string              `json:"cause,omitempty"`
	Error          string              `json:"error,omitempty"`
	SyncError      string              `json:"sync_error,omitempty"`
	Stats          *model.Statistics   `json:"stats,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
}

type statusEntry struct {
	ConversationID string    `json:"conversation_id"`
	StartTime      time.Time `json:"start_time"`
	Duration       string    `json:"duration"`
	Idle           string    `json:"idle"`
	Live           bool      `json:"live"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   session.FormatDuration(time.Since(s.started)),
		"sessions": s.manager.Count(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	statuses := s.manager.GetStatus()
	out := make([]statusEntry, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, statusEntry{
			ConversationID: st.ConversationID,
			StartTime:      st.StartTime,
			Duration:       session.FormatDuration(st.Duration),
			Idle:           session.FormatDuration(st.IdleTime),
			Live:           st.Live,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleList(c *gin.Context) {
	metas, err := s.manager.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": metas})
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abortError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, err := s.manager.Create(c.Request.Context(), req.Params)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleImport(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatJSON)))
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	importer, err := export.NewImporter(format)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		abortError(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	conv, err := importer.Import(data)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.manager.Import(c.Request.Context(), conv)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGet(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSend(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	// The turn outlives this request.
	handle, err := sess.SendMessage(c.Request.Context(), session.Input{
		Text:      req.Text,
		Images:    req.Images,
		Documents: req.Documents,
		Params:    req.Params,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondTurn(c, sess, handle)
}

func (s *Server) handleCancel(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	live := sess.Live()
	sess.Cancel()
	if live == nil {
		c.JSON(http.StatusOK, gin.H{"cancelled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true, "request_id": live.ID()})
}

func (s *Server) handleRetry(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	handle, err := sess.Retry(c.Request.Context(), c.Param("mid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondTurn(c, sess, handle)
}

func (s *Server) handleExport(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatMarkdown)))
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	exporter, err := export.NewExporter(format, s.opts.Export)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	data, err := exporter.Export(sess.Snapshot())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, sess.ID(), exporter.FileExtension()))
	c.Data(http.StatusOK, exporter.MimeType(), data)
}

// ============================================================================
// HELPERS
// ============================================================================

// session looks up the conversation named by the :id parameter and writes
// the error response when it cannot.
func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, err := s.manager.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	s.manager.RecordActivity(id)
	return sess, true
}

// respondTurn answers 202 with the handle, or waits for the outcome when
// the request has ?wait=true.
func (s *Server) respondTurn(c *gin.Context, sess *session.Session, handle *session.RequestHandle) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		c.JSON(http.StatusAccepted, turnResponse{
			RequestID:      handle.ID(),
			ConversationID: sess.ID(),
			Retry:          handle.IsRetry(),
			State:          handle.State().String(),
		})
		return
	}

	out, err := handle.Wait(c.Request.Context())
	if err != nil {
		// Client went away; the turn keeps running.
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(sess, handle, out))
}

func outcomeResponse(sess *session.Session, handle *session.RequestHandle, out assembler.Outcome) turnResponse {
	resp := turnResponse{
		RequestID:      handle.ID(),
		ConversationID: sess.ID(),
		Retry:          handle.IsRetry(),
		State:          out.State.String(),
		Stats:          out.Stats,
		Conversation:   sess.Snapshot(),
	}
	if cause := telemetry.Cause(out); cause != "none" {
		resp.Cause = cause
	}
	if out.Cause != nil {
		resp.Error = out.Cause.Error()
	}
	if out.SyncErr != nil {
		resp.SyncError = out.SyncErr.Error()
	}
	return resp
}

// fail maps a domain error to a status code.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound), errors.Is(err, session.ErrMessageNotFound):
		abortError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotRetryable):
		abortError(c, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrEmptyInput), errors.Is(err, model.ErrInvalidParams),
		errors.Is(err, export.ErrNoMessages), errors.Is(err, export.ErrUnsupportedFormat):
		abortError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		abortError(c, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		abortError(c, http.StatusInternalServerError, err.Error())
	}
}

// abortError writes a JSON error body and stops the handler chain.
func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"code":    status,
		},
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server started", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}
