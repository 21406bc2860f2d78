// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// previewWidth is the display width of conversation previews.
const previewWidth = 100

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered list of messages plus per-conversation settings.
// Messages are kept in strictly increasing Timestamp order.
type Conversation struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Preview    string    `json:"preview" yaml:"preview"`
	Provider   string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model      string    `json:"model,omitempty" yaml:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	LastEdited time.Time `json:"last_edited" yaml:"last_edited"`

	Params GenerationParams `json:"params" yaml:"params"`
	Canvas *CanvasDocument  `json:"canvas,omitempty" yaml:"canvas,omitempty"`

	Messages []*Message `json:"messages" yaml:"messages"`
}

// NewConversation creates an empty conversation with default parameters.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:         NewID(),
		CreatedAt:  now,
		LastEdited: now,
		Params:     DefaultParams(),
		Messages:   make([]*Message, 0),
	}
}

// =============================================================================
// LOOKUP
// =============================================================================

// Index returns the position of the message with the given ID, or -1.
func (c *Conversation) Index(id string) int {
	for i, msg := range c.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// MessageByID returns the message with the given ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	if i := c.Index(id); i >= 0 {
		return c.Messages[i]
	}
	return nil
}

// LastMessage returns the last message, or nil.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastOfRole returns the most recent message with the given role, or nil.
func (c *Conversation) LastOfRole(role Role) *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == role {
			return c.Messages[i]
		}
	}
	return nil
}

// =============================================================================
// MUTATION
// =============================================================================

// Append adds a message at the end, bumping its timestamp past the current
// last message when needed.
func (c *Conversation) Append(msg *Message) {
	c.InsertAt(len(c.Messages), msg)
}

// InsertAt places msg at position i. Its timestamp is set between the
// neighbours when it would otherwise break ordering.
func (c *Conversation) InsertAt(i int, msg *Message) {
	if i < 0 {
		i = 0
	}
	if i > len(c.Messages) {
		i = len(c.Messages)
	}
	msg.ConversationID = c.ID

	var prev, next time.Time
	if i > 0 {
		prev = c.Messages[i-1].Timestamp
	}
	if i < len(c.Messages) {
		next = c.Messages[i].Timestamp
	}
	msg.Timestamp = timestampBetween(prev, next, msg.Timestamp)

	c.Messages = append(c.Messages, nil)
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = msg

	if (i > 0 && !msg.Timestamp.After(prev)) || (!next.IsZero() && !msg.Timestamp.Before(next)) {
		c.restamp(i)
	}
	c.updateTitle()
}

// InsertBefore places msg immediately before the message with the given ID.
// It appends when the ID is unknown.
func (c *Conversation) InsertBefore(id string, msg *Message) {
	i := c.Index(id)
	if i < 0 {
		c.Append(msg)
		return
	}
	c.InsertAt(i, msg)
}

// Remove deletes the message with the given ID.
func (c *Conversation) Remove(id string) bool {
	i := c.Index(id)
	if i < 0 {
		return false
	}
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	return true
}

// RemoveRange deletes messages [from, to) and returns them.
func (c *Conversation) RemoveRange(from, to int) []*Message {
	removed := append([]*Message(nil), c.Messages[from:to]...)
	c.Messages = append(c.Messages[:from], c.Messages[to:]...)
	return removed
}

// Touch stamps the last-edited time.
func (c *Conversation) Touch(now time.Time) {
	c.LastEdited = now
}

// =============================================================================
// ORDERING
// =============================================================================

// minGap is the spacing used when neighbouring timestamps leave no room.
const minGap = time.Microsecond

// timestampBetween picks a timestamp strictly between prev and next.
// A zero bound means open-ended; want is used when it already fits.
func timestampBetween(prev, next, want time.Time) time.Time {
	fits := (prev.IsZero() || want.After(prev)) && (next.IsZero() || want.Before(next))
	if !want.IsZero() && fits {
		return want
	}
	switch {
	case prev.IsZero() && next.IsZero():
		return time.Now()
	case next.IsZero():
		return prev.Add(minGap)
	case prev.IsZero():
		return next.Add(-minGap)
	default:
		return prev.Add(next.Sub(prev) / 2)
	}
}

// restamp re-spaces timestamps from position i onward when the midpoint
// between two neighbours collapsed onto one of them.
func (c *Conversation) restamp(i int) {
	for j := max(i, 1); j < len(c.Messages); j++ {
		prev := c.Messages[j-1].Timestamp
		if !c.Messages[j].Timestamp.After(prev) {
			c.Messages[j].Timestamp = prev.Add(minGap)
		}
	}
}

// IsOrdered reports whether message timestamps strictly increase.
func (c *Conversation) IsOrdered() bool {
	for i := 1; i < len(c.Messages); i++ {
		if !c.Messages[i].Timestamp.After(c.Messages[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the messages sent to a provider: user and assistant
// messages with content, limited to the last limit entries (0 means all).
func (c *Conversation) History(limit int) []*Message {
	return c.HistoryBefore(len(c.Messages), limit)
}

// HistoryBefore is History restricted to the messages before position i.
func (c *Conversation) HistoryBefore(i, limit int) []*Message {
	i = min(max(i, 0), len(c.Messages))
	out := make([]*Message, 0, i)
	for _, msg := range c.Messages[:i] {
		switch msg.Role {
		case RoleUser, RoleAssistant:
			if msg.Streaming || msg.IsEmpty() {
				continue
			}
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// =============================================================================
// TITLE AND PREVIEW
// =============================================================================

// updateTitle derives a title from the first user message if none is set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && strings.TrimSpace(msg.Text) != "" {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = strings.TrimSpace(title)
}

// DisplayTitle returns the conversation title or a default.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// SetPreview stores the list preview for an answer. Image-only answers
// preview as "[image]" followed by the text of the message that prompted
// them; search results in between are skipped.
func (c *Conversation) SetPreview(answer *Message) {
	text := answer.Preview(previewWidth)
	if text == "" && len(answer.Images) > 0 {
		text = "[image]"
		i := c.Index(answer.ID) - 1
		for i >= 0 && c.Messages[i].Role == RoleSearch {
			i--
		}
		if i >= 0 {
			if prior := c.Messages[i].Preview(previewWidth); prior != "" {
				text += " " + prior
			}
		}
	}
	c.Preview = text
}

// RefreshPreview recomputes the preview from the last assistant message,
// or clears it when there is none.
func (c *Conversation) RefreshPreview() {
	if last := c.LastOfRole(RoleAssistant); last != nil {
		c.SetPreview(last)
		return
	}
	c.Preview = ""
}

// Meta returns lightweight metadata for listing.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.DisplayTitle(),
		Preview:      c.Preview,
		Provider:     c.Provider,
		Model:        c.Model,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		LastEdited:   c.LastEdited,
	}
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Preview      string    `json:"preview" yaml:"preview"`
	Provider     string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model        string    `json:"model,omitempty" yaml:"model,omitempty"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	LastEdited   time.Time `json:"last_edited" yaml:"last_edited"`
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	if c.Canvas != nil {
		canvas := *c.Canvas
		clone.Canvas = &canvas
	}
	clone.Messages = make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}
