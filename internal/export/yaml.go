// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// YAML EXPORTER
// =============================================================================

// YAMLExporter dumps the whole conversation, every channel included.
type YAMLExporter struct{}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter() *YAMLExporter {
	return &YAMLExporter{}
}

// Export converts a conversation to YAML.
func (e *YAMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	snap := conv.Clone()
	kept := snap.Messages[:0]
	for _, msg := range snap.Messages {
		if !msg.Streaming {
			kept = append(kept, msg)
		}
	}
	snap.Messages = kept

	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// FileExtension returns ".yaml".
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}

// Import reads a YAML dump. The conversation and its messages get fresh
// IDs so an import never collides with the original; group links are kept.
func (e *YAMLExporter) Import(data []byte) (*model.Conversation, error) {
	var in model.Conversation
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}

	for i, msg := range in.Messages {
		if msg == nil {
			return nil, fmt.Errorf("message %d is empty", i)
		}
		if _, ok := model.ParseRole(msg.Role.String()); !ok {
			return nil, fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
		msg.ID = model.NewID()
	}

	conv, err := rebuild(in.Title, in.Messages)
	if err != nil {
		return nil, err
	}
	conv.Preview = in.Preview
	conv.Provider = in.Provider
	conv.Model = in.Model
	conv.Params = in.Params
	conv.Canvas = in.Canvas
	if !in.CreatedAt.IsZero() {
		conv.CreatedAt = in.CreatedAt
	}
	return conv, nil
}
