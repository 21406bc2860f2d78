// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations to a compact JSON document of
// role/content pairs. Images travel as data URIs.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// jsonDocument is the exported JSON structure.
type jsonDocument struct {
	Title      string        `json:"title,omitempty"`
	Model      string        `json:"model,omitempty"`
	ExportedAt *time.Time    `json:"exported_at,omitempty"`
	Messages   []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	Images    []string   `json:"images,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Export converts a conversation to JSON format.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	doc := jsonDocument{
		Title:    conv.Title,
		Messages: make([]jsonMessage, 0, len(conv.Messages)),
	}
	if e.options.IncludeMetadata {
		now := time.Now()
		doc.Model = conv.Model
		doc.ExportedAt = &now
	}

	for _, msg := range conv.Messages {
		if !exportable(msg, e.options) {
			continue
		}
		jm := jsonMessage{
			Role:      msg.Role.String(),
			Content:   msg.Text,
			Reasoning: msg.ReasoningText,
		}
		for _, img := range msg.Images {
			jm.Images = append(jm.Images, img.DataURI())
		}
		if e.options.IncludeTimestamps {
			ts := msg.Timestamp
			jm.Timestamp = &ts
		}
		doc.Messages = append(doc.Messages, jm)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

// Import parses a document produced by Export. A bare array of messages is
// accepted as well.
func (e *JSONExporter) Import(data []byte) (*model.Conversation, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		var list []jsonMessage
		if errList := json.Unmarshal(data, &list); errList != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
		doc.Messages = list
	}

	msgs := make([]*model.Message, 0, len(doc.Messages))
	for i, jm := range doc.Messages {
		role, ok := model.ParseRole(jm.Role)
		if !ok {
			return nil, fmt.Errorf("message %d: unknown role %q", i, jm.Role)
		}
		msg := model.NewMessage(role, jm.Content)
		msg.ReasoningText = jm.Reasoning
		for _, uri := range jm.Images {
			img, err := model.ParseDataURI(uri)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			msg.Images = append(msg.Images, img)
		}
		if jm.Timestamp != nil {
			msg.Timestamp = *jm.Timestamp
		}
		msgs = append(msgs, msg)
	}

	conv, err := rebuild(doc.Title, msgs)
	if err != nil {
		return nil, err
	}
	conv.Model = doc.Model
	return conv, nil
}
