// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
)

// ============================================================================
// WEBSOCKET STREAMING
// ============================================================================

const (
	frameBuffer = 8

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// wsRequest is a command sent by the client.
type wsRequest struct {
	Action    string                  `json:"action"` // send, cancel, retry
	Text      string                  `json:"text,omitempty"`
	Images    []model.Image           `json:"images,omitempty"`
	Documents []model.Document        `json:"documents,omitempty"`
	Params    *model.GenerationParams `json:"params,omitempty"`
	MessageID string                  `json:"message_id,omitempty"`
}

// wsFrame is pushed to the client. Every update carries a full snapshot;
// clients replace their copy.
type wsFrame struct {
	Type         string              `json:"type"` // snapshot, update, accepted, outcome, error
	Reason       string              `json:"reason,omitempty"`
	State        string              `json:"state,omitempty"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Turn         *turnResponse       `json:"turn,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	cors := DefaultCORSConfig(s.opts.AllowedOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return cors.isOriginAllowed(origin) || sameHost(r, origin)
		},
	}
}

func sameHost(r *http.Request, origin string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		if origin == scheme+r.Host {
			return true
		}
	}
	return false
}

// handleWebSocket streams conversation updates to the client and accepts
// send, cancel and retry commands on the same connection.
func (s *Server) handleWebSocket(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger := s.logger.With("conversation", sess.ID(), "remote", c.ClientIP())
	logger.Info("websocket client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan wsFrame, frameBuffer)
	push := func(f wsFrame) {
		select {
		case frames <- f:
		case <-ctx.Done():
		}
	}

	// Subscribers run on the session executor and must not block. A client
	// that falls behind skips to the newest update.
	var (
		latestMu sync.Mutex
		latest   *wsFrame
	)
	updated := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(u session.Update) {
		latestMu.Lock()
		latest = &wsFrame{
			Type:         "update",
			Reason:       string(u.Reason),
			State:        u.State.String(),
			Conversation: u.Conversation,
		}
		latestMu.Unlock()
		select {
		case updated <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := s.writeFrame(ws, wsFrame{Type: "snapshot", Conversation: sess.Snapshot()}); err != nil {
		return
	}

	go s.readCommands(ctx, cancel, ws, sess, push)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("websocket client disconnected")
			return
		case f := <-frames:
			if err := s.writeFrame(ws, f); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-updated:
			latestMu.Lock()
			f := latest
			latest = nil
			latestMu.Unlock()
			if f == nil {
				continue
			}
			if err := s.writeFrame(ws, *f); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(ws *websocket.Conn, f wsFrame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(f)
}

// readCommands runs until the client disconnects, then cancels ctx.
func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sess *session.Session, push func(wsFrame)) {
	defer cancel()
	ws.SetReadLimit(maxBodyBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req wsRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.manager.RecordActivity(sess.ID())

		var (
			handle *session.RequestHandle
			err    error
		)
		switch req.Action {
		case "send":
			handle, err = sess.SendMessage(ctx, session.Input{
				Text:      req.Text,
				Images:    req.Images,
				Documents: req.Documents,
				Params:    req.Params,
			})
		case "retry":
			handle, err = sess.Retry(ctx, req.MessageID)
		case "cancel":
			sess.Cancel()
			continue
		default:
			push(wsFrame{Type: "error", Error: "unknown action: " + req.Action})
			continue
		}
		if err != nil {
			push(wsFrame{Type: "error", Error: err.Error()})
			continue
		}

		push(wsFrame{Type: "accepted", Turn: &turnResponse{
			RequestID:      handle.ID(),
			ConversationID: sess.ID(),
			Retry:          handle.IsRetry(),
			State:          handle.State().String(),
		}})
		go func(h *session.RequestHandle) {
			select {
			case <-h.Done():
				turn := outcomeResponse(sess, h, h.Outcome())
				turn.Conversation = nil
				push(wsFrame{Type: "outcome", Turn: &turn})
			case <-ctx.Done():
			}
		}(handle)
	}
}
