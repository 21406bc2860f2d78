// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/provider"
	"github.com/jeranaias/threadline/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	srv := httptest.NewServer(replyWith("pong"))
	t.Cleanup(srv.Close)

	p, err := provider.New(provider.Config{Name: "relay", BaseURL: srv.URL, Model: "m1"})
	require.NoError(t, err)
	store := storage.NewMemory(nil)

	cfg := DefaultManagerConfig()
	cfg.Session = Config{Provider: p, Store: store}
	m := NewManager(cfg)
	t.Cleanup(func() {
		_ = m.Close()
		_ = store.Close()
	})
	return m, store
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	assert.Equal(t, 15*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)

	m := NewManager(ManagerConfig{})
	assert.Equal(t, 15*time.Minute, m.cfg.IdleTimeout)
}

// =============================================================================
// LOOKUP TESTS
// =============================================================================

func TestManager_CreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)

	again, err := m.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s, again)

	conv := s.Snapshot()
	assert.Equal(t, "relay", conv.Provider)
	assert.Equal(t, "m1", conv.Model)
}

func TestManager_GetLoadsFromStore(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	conv := model.NewConversation()
	msg := model.NewUserMessage("stored", nil, nil)
	conv.Append(msg)
	tx := store.Begin()
	tx.PutConversation(conv)
	tx.InsertMessage(msg)
	require.NoError(t, tx.Save(ctx))

	s, err := m.Get(ctx, conv.ID)
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "stored", snap.Messages[0].Text)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestManager_CreateValidatesParams(t *testing.T) {
	m, _ := newTestManager(t)
	bad := model.DefaultParams()
	bad.TopP = 3
	_, err := m.Create(context.Background(), &bad)
	assert.Error(t, err)
}

func TestManager_ReconfigureSeedsNewConversations(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	params := model.DefaultParams()
	params.Temperature = 0.1
	params.SystemPrompt = "terse"
	m.Reconfigure(func(cfg *ManagerConfig) { cfg.Params = &params })

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, "terse", snap.Params.SystemPrompt)
	assert.InDelta(t, 0.1, snap.Params.Temperature, 1e-9)
	assert.Equal(t, 1, m.Count())
}

func TestManager_ImportPersistsMessages(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	conv := model.NewConversation()
	conv.Append(model.NewUserMessage("Hello", nil, nil))
	answer := model.NewMessage(model.RoleAssistant, "Hi")
	conv.Append(answer)
	placeholder := model.NewAssistantPlaceholder("")
	conv.Append(placeholder)

	s, err := m.Import(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, s.ID())
	assert.Len(t, s.Snapshot().Messages, 2)

	msgs, err := store.FetchMessages(ctx, conv.ID, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[1].Text)

	_, err = m.Import(ctx, conv)
	assert.Error(t, err)
}

func TestManager_ListAndDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)
	h, err := s.SendMessage(ctx, Input{Text: "ping"})
	require.NoError(t, err)
	<-h.Done()

	metas, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "ping", metas[0].Title)
	assert.Equal(t, 2, metas[0].MessageCount)
	assert.Equal(t, "pong", metas[0].Preview)

	require.NoError(t, m.Delete(ctx, s.ID()))
	metas, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
	assert.ErrorIs(t, m.Delete(ctx, s.ID()), storage.ErrConversationNotFound)
}

// =============================================================================
// ACTIVITY TESTS
// =============================================================================

func TestManager_SweepClosesIdleSessions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	idle, err := m.Create(ctx, nil)
	require.NoError(t, err)
	active, err := m.Create(ctx, nil)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	m.RecordActivity(active.ID())
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Nil(t, idle.Snapshot(), "swept session is closed")

	statuses := m.GetStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, active.ID(), statuses[0].ConversationID)
	assert.Equal(t, 6*time.Minute, statuses[0].IdleTime)
	assert.False(t, statuses[0].Live)

	// the conversation survives in storage and reopens
	reopened, err := m.Get(ctx, idle.ID())
	require.NoError(t, err)
	assert.NotSame(t, idle, reopened)
}

func TestManager_CloseRejectsNewSessions(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Close())
	_, err := m.Create(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

// =============================================================================
// HELPER FUNCTION TESTS
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m 30s"},
		{15 * time.Minute, "15m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
