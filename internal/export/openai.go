// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// OPENAI EXPORTER
// =============================================================================

// OpenAIExporter writes the conversation as an OpenAI chat message array,
// ready to paste into a /chat/completions request. The system prompt comes
// first. Only user, assistant and system messages are carried.
type OpenAIExporter struct{}

// NewOpenAIExporter creates a new OpenAI message exporter.
func NewOpenAIExporter() *OpenAIExporter {
	return &OpenAIExporter{}
}

// Export converts a conversation to an OpenAI message array.
func (e *OpenAIExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	out := make([]openai.ChatCompletionMessage, 0, len(conv.Messages)+1)
	if conv.Params.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: conv.Params.SystemPrompt,
		})
	}
	for _, msg := range conv.Messages {
		if msg.Streaming {
			continue
		}
		var role string
		switch msg.Role {
		case model.RoleUser:
			role = openai.ChatMessageRoleUser
		case model.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case model.RoleSystem:
			role = openai.ChatMessageRoleSystem
		default:
			continue
		}
		out = append(out, toOpenAI(role, msg))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}
	return data, nil
}

func toOpenAI(role string, msg *model.Message) openai.ChatCompletionMessage {
	if len(msg.Images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(msg.Images)+1)
	if msg.Text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Text})
	}
	for _, img := range msg.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.DataURI(), Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// FileExtension returns ".json".
func (e *OpenAIExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *OpenAIExporter) MimeType() string {
	return "application/json"
}

// Import parses an OpenAI message array. A leading system message becomes
// the conversation's system prompt.
func (e *OpenAIExporter) Import(data []byte) (*model.Conversation, error) {
	var in []openai.ChatCompletionMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	var prompt string
	if len(in) > 0 && in[0].Role == openai.ChatMessageRoleSystem && len(in[0].MultiContent) == 0 {
		prompt = in[0].Content
		in = in[1:]
	}

	msgs := make([]*model.Message, 0, len(in))
	for i, om := range in {
		var role model.Role
		switch om.Role {
		case openai.ChatMessageRoleUser:
			role = model.RoleUser
		case openai.ChatMessageRoleAssistant:
			role = model.RoleAssistant
		case openai.ChatMessageRoleSystem:
			role = model.RoleSystem
		default:
			// tool and function results have no place in a chat transcript
			continue
		}

		msg := model.NewMessage(role, om.Content)
		var texts []string
		for _, part := range om.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				texts = append(texts, part.Text)
			case openai.ChatMessagePartTypeImageURL:
				if part.ImageURL == nil {
					continue
				}
				img, err := model.ParseDataURI(part.ImageURL.URL)
				if err != nil {
					return nil, fmt.Errorf("message %d: %w", i, err)
				}
				msg.Images = append(msg.Images, img)
			}
		}
		if len(texts) > 0 {
			msg.Text = strings.Join(texts, "\n")
		}
		msgs = append(msgs, msg)
	}

	conv, err := rebuild("", msgs)
	if err != nil {
		return nil, err
	}
	conv.Params.SystemPrompt = prompt
	return conv, nil
}
