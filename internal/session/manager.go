// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/storage"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// IdleTimeout closes sessions without a live request after this long
	// (default: 15 minutes). Their conversations stay in storage.
	IdleTimeout time.Duration

	// SweepInterval is how often Run checks for idle sessions
	// (default: 1 minute).
	SweepInterval time.Duration

	// Session is the template for every session the manager opens.
	Session Config

	// Params, when set, seeds conversations created without parameters.
	Params *model.GenerationParams
}

// DefaultManagerConfig returns the default timeouts.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:   15 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Manager opens sessions on demand, one per conversation, and closes
// them when idle.
type Manager struct {
	mu       sync.Mutex
	cfg      ManagerConfig
	sessions map[string]*tracked
	now      func() time.Time
	closed   bool
}

type tracked struct {
	session      *Session
	startTime    time.Time
	lastActivity time.Time
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*tracked),
		now:      time.Now,
	}
}

// =============================================================================
// SESSION LOOKUP
// =============================================================================

// Create starts a new conversation, saves it and opens its session.
func (m *Manager) Create(ctx context.Context, params *model.GenerationParams) (*Session, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if params == nil {
		params = cfg.Params
	}
	conv := model.NewConversation()
	if params != nil {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		conv.Params = *params
	}
	if p := cfg.Session.Provider; p != nil {
		conv.Provider, conv.Model = p.Name(), p.Model()
	}

	tx := cfg.Session.Store.Begin()
	tx.PutConversation(conv)
	if err := tx.Save(ctx); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return m.track(conv)
}

// Import saves conv and its messages as a new conversation and opens its
// session. Streaming placeholders are not imported.
func (m *Manager) Import(ctx context.Context, conv *model.Conversation) (*Session, error) {
	if conv == nil || conv.ID == "" {
		return nil, errors.New("import: conversation has no ID")
	}
	store := m.store()
	if _, err := store.LoadConversation(ctx, conv.ID); err == nil {
		return nil, fmt.Errorf("import: conversation %s already exists", conv.ID)
	}

	msgs := conv.Messages[:0:0]
	for _, msg := range conv.Messages {
		if msg.Streaming {
			continue
		}
		msg.ConversationID = conv.ID
		msgs = append(msgs, msg)
	}
	conv.Messages = msgs

	tx := store.Begin()
	tx.PutConversation(conv)
	for _, msg := range msgs {
		tx.InsertMessage(msg)
	}
	if err := tx.Save(ctx); err != nil {
		return nil, fmt.Errorf("import conversation: %w", err)
	}
	return m.track(conv)
}

// Get returns the session for a conversation, loading it from storage if
// it is not open.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if t, ok := m.sessions[id]; ok {
		t.lastActivity = m.now()
		m.mu.Unlock()
		return t.session, nil
	}
	m.mu.Unlock()

	conv, err := m.store().LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.track(conv)
}

// track opens a session for conv unless another caller won the race.
func (m *Manager) track(conv *model.Conversation) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if t, ok := m.sessions[conv.ID]; ok {
		t.lastActivity = m.now()
		return t.session, nil
	}
	now := m.now()
	s := New(conv, m.cfg.Session)
	m.sessions[conv.ID] = &tracked{session: s, startTime: now, lastActivity: now}
	return s, nil
}

// List returns conversation metadata, most recently edited first.
func (m *Manager) List(ctx context.Context) ([]model.ConversationMeta, error) {
	store := m.store()
	convs, err := store.FetchConversations(ctx, nil)
	if err != nil {
		return nil, err
	}
	metas := make([]model.ConversationMeta, 0, len(convs))
	for _, conv := range convs {
		msgs, err := store.FetchMessages(ctx, conv.ID, nil)
		if err != nil {
			return nil, err
		}
		meta := conv.Meta()
		meta.MessageCount = len(msgs)
		metas = append(metas, meta)
	}
	return metas, nil
}

// Delete closes the conversation's session and removes it from storage.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		_ = t.session.Close()
	}

	store := m.store()
	if _, err := store.LoadConversation(ctx, id); err != nil {
		return err
	}
	tx := store.Begin()
	tx.DeleteConversation(id)
	return tx.Save(ctx)
}

// Reconfigure edits the template for sessions opened from now on. Open
// sessions keep the settings they were created with.
func (m *Manager) Reconfigure(fn func(*ManagerConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

func (m *Manager) store() *storage.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Session.Store
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// =============================================================================
// ACTIVITY TRACKING
// =============================================================================

// RecordActivity marks a session as used now.
func (m *Manager) RecordActivity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[id]; ok {
		t.lastActivity = m.now()
	}
}

// Sweep closes sessions idle for longer than the timeout. Sessions with a
// live request are kept. It returns the number closed.
func (m *Manager) Sweep() int {
	now := m.now()
	var idle []*Session

	m.mu.Lock()
	for id, t := range m.sessions {
		if now.Sub(t.lastActivity) < m.cfg.IdleTimeout {
			continue
		}
		if t.session.Live() != nil {
			t.lastActivity = now
			continue
		}
		idle = append(idle, t.session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range idle {
		_ = s.Close()
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close closes every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*tracked)
	m.mu.Unlock()

	var errs []error
	for _, t := range sessions {
		errs = append(errs, t.session.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status describes one open session.
type Status struct {
	ConversationID string
	StartTime      time.Time
	Duration       time.Duration
	IdleTime       time.Duration
	Live           bool
}

// GetStatus returns the status of every open session, oldest first.
func (m *Manager) GetStatus() []Status {
	m.mu.Lock()
	now := m.now()
	type entry struct {
		id string
		t  tracked
	}
	entries := make([]entry, 0, len(m.sessions))
	for id, t := range m.sessions {
		entries = append(entries, entry{id, *t})
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, Status{
			ConversationID: e.id,
			StartTime:      e.t.startTime,
			Duration:       now.Sub(e.t.startTime),
			IdleTime:       now.Sub(e.t.lastActivity),
			Live:           e.t.session.Live() != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
