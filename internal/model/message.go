// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
)

// ErrInvalidDataURI is returned when an image data URI cannot be decoded.
var ErrInvalidDataURI = errors.New("invalid data uri")

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleInformation Role = "information"
	RoleSearch      Role = "search"
	RoleError       Role = "error"
	RoleSystem      Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleInformation:
		return "Info"
	case RoleSearch:
		return "Search"
	case RoleError:
		return "Error"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// IsAnswer reports whether messages of this role can belong to an answer
// group. Answer runs are bounded by user and information messages.
func (r Role) IsAnswer() bool {
	return r == RoleAssistant || r == RoleError || r == RoleSearch
}

// ParseRole converts a stored role string. Unknown values return false.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleInformation, RoleSearch, RoleError, RoleSystem:
		return r, true
	default:
		return "", false
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry of a conversation. Every content channel is optional
// and set independently while an answer streams in.
//
// ID is stable for the life of the message. Version increases by one at
// every flush so observers can diff by (ID, Version).
type Message struct {
	// Identity
	ID             string    `json:"id" yaml:"id"`
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Role           Role      `json:"role" yaml:"role"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Version        uint64    `json:"version" yaml:"version"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`

	// Grouping
	GroupID       string `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	ParentGroupID string `json:"parent_group_id,omitempty" yaml:"parent_group_id,omitempty"`

	// Text channels
	Text             string `json:"text,omitempty" yaml:"text,omitempty"`
	ReasoningText    string `json:"reasoning_text,omitempty" yaml:"reasoning_text,omitempty"`
	ReasoningElapsed string `json:"reasoning_elapsed,omitempty" yaml:"reasoning_elapsed,omitempty"`
	ToolName         string `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	ToolContent      string `json:"tool_content,omitempty" yaml:"tool_content,omitempty"`
	HTMLContent      string `json:"html_content,omitempty" yaml:"html_content,omitempty"`

	// Media
	Images       []Image      `json:"images,omitempty" yaml:"images,omitempty"`
	ImageCaption string       `json:"image_caption,omitempty" yaml:"image_caption,omitempty"`
	Documents    []Document   `json:"documents,omitempty" yaml:"documents,omitempty"`
	DocumentText string       `json:"document_text,omitempty" yaml:"document_text,omitempty"`
	AudioAssets  []AudioAsset `json:"audio_assets,omitempty" yaml:"audio_assets,omitempty"`

	// Cards
	Resources      []Resource      `json:"resources,omitempty" yaml:"resources,omitempty"`
	Locations      []Location      `json:"locations,omitempty" yaml:"locations,omitempty"`
	Routes         []Route         `json:"routes,omitempty" yaml:"routes,omitempty"`
	Events         []CalendarEvent `json:"events,omitempty" yaml:"events,omitempty"`
	HealthRecords  []HealthRecord  `json:"health_records,omitempty" yaml:"health_records,omitempty"`
	CodeBlocks     []CodeBlock     `json:"code_blocks,omitempty" yaml:"code_blocks,omitempty"`
	KnowledgeCards []KnowledgeCard `json:"knowledge_cards,omitempty" yaml:"knowledge_cards,omitempty"`

	// Performance metrics for the head message of a turn
	Stats *Statistics `json:"stats,omitempty" yaml:"stats,omitempty"`

	// Streaming state (not persisted)
	Status       string `json:"-" yaml:"-"`
	StatusDetail string `json:"-" yaml:"-"`
	Streaming    bool   `json:"-" yaml:"-"`
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, text string) *Message {
	now := time.Now()
	return &Message{
		ID:        NewID(),
		Role:      role,
		Text:      text,
		Timestamp: now,
		UpdatedAt: now,
	}
}

// NewUserMessage creates a user message with optional attachments.
func NewUserMessage(text string, images []Image, docs []Document) *Message {
	msg := NewMessage(RoleUser, text)
	msg.Images = images
	msg.Documents = docs
	return msg
}

// NewAssistantPlaceholder creates the empty streaming message shown while a
// response is pending.
func NewAssistantPlaceholder(groupID string) *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.GroupID = groupID
	msg.Streaming = true
	return msg
}

// NewInformationMessage creates a system-originated notice.
func NewInformationMessage(text string) *Message {
	return NewMessage(RoleInformation, text)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// HasContent reports whether the message carries text, reasoning or images.
// An answer without any of these is an empty result.
func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" ||
		strings.TrimSpace(m.ReasoningText) != "" ||
		len(m.Images) > 0
}

// IsEmpty reports whether no channel at all has been populated.
func (m *Message) IsEmpty() bool {
	return !m.HasContent() &&
		m.ToolName == "" && m.ToolContent == "" && m.HTMLContent == "" &&
		len(m.Resources) == 0 && len(m.Documents) == 0 && len(m.AudioAssets) == 0 &&
		len(m.Locations) == 0 && len(m.Routes) == 0 && len(m.Events) == 0 &&
		len(m.HealthRecords) == 0 && len(m.CodeBlocks) == 0 && len(m.KnowledgeCards) == 0
}

// Trim strips surrounding whitespace from the text channels.
func (m *Message) Trim() {
	m.Text = strings.TrimSpace(m.Text)
	m.ReasoningText = strings.TrimSpace(m.ReasoningText)
}

// Touch records a flush: the version advances and UpdatedAt is stamped.
func (m *Message) Touch(now time.Time) {
	m.Version++
	m.UpdatedAt = now
}

// NeedsImageCaption reports whether the message has images but no caption.
func (m *Message) NeedsImageCaption() bool {
	return len(m.Images) > 0 && m.ImageCaption == ""
}

// NeedsDocumentText reports whether the message has documents but no
// extracted document text.
func (m *Message) NeedsDocumentText() bool {
	return len(m.Documents) > 0 && m.DocumentText == ""
}

// Preview returns the text truncated to maxWidth display columns.
func (m *Message) Preview(maxWidth int) string {
	text := strings.Join(strings.Fields(m.Text), " ")
	return runewidth.Truncate(text, maxWidth, "...")
}

// Clone returns a copy whose slices can be modified independently.
func (m *Message) Clone() *Message {
	c := *m
	c.Images = append([]Image(nil), m.Images...)
	c.Documents = append([]Document(nil), m.Documents...)
	c.AudioAssets = append([]AudioAsset(nil), m.AudioAssets...)
	c.Resources = append([]Resource(nil), m.Resources...)
	c.Locations = append([]Location(nil), m.Locations...)
	c.Routes = append([]Route(nil), m.Routes...)
	c.Events = append([]CalendarEvent(nil), m.Events...)
	c.HealthRecords = append([]HealthRecord(nil), m.HealthRecords...)
	c.CodeBlocks = append([]CodeBlock(nil), m.CodeBlocks...)
	c.KnowledgeCards = append([]KnowledgeCard(nil), m.KnowledgeCards...)
	if m.Stats != nil {
		s := *m.Stats
		c.Stats = &s
	}
	return &c
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing information for one streamed answer.
type Statistics struct {
	StartTime      time.Time `json:"start_time" yaml:"start_time"`
	FirstEventTime time.Time `json:"first_event_time,omitempty" yaml:"first_event_time,omitempty"`
	EndTime        time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`

	Events        int `json:"events" yaml:"events"`
	ContentDeltas int `json:"content_deltas" yaml:"content_deltas"`

	TTFT          time.Duration `json:"ttft_ns,omitempty" yaml:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty" yaml:"total_duration_ns,omitempty"`
	Reasoning     time.Duration `json:"reasoning_ns,omitempty" yaml:"reasoning_ns,omitempty"`
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics(start time.Time) *Statistics {
	return &Statistics{StartTime: start}
}

// RecordEvent counts one applied event and notes the first one.
func (s *Statistics) RecordEvent(now time.Time, content bool) {
	s.Events++
	if content {
		s.ContentDeltas++
	}
	if s.FirstEventTime.IsZero() {
		s.FirstEventTime = now
		s.TTFT = now.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize(now time.Time) {
	s.EndTime = now
	s.TotalDuration = now.Sub(s.StartTime)
}

// Format returns a one-line summary, e.g. "2.5s | 42 events | TTFT 234ms".
func (s *Statistics) Format() string {
	return fmt.Sprintf("%.1fs | %d events | TTFT %dms",
		s.TotalDuration.Seconds(), s.Events, s.TTFT.Milliseconds())
}
