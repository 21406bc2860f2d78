// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

// Reasons carried by TerminalError for provider-side stops.
const (
	ReasonLength    = stream.ReasonLength
	ReasonSensitive = stream.ReasonSensitive
)

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint over SSE.
type OpenAI struct {
	cfg Config
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg Config) *OpenAI {
	return &OpenAI{cfg: cfg}
}

// Name returns "openai".
func (p *OpenAI) Name() string { return "openai" }

// Model returns the configured model.
func (p *OpenAI) Model() string { return p.cfg.Model }

// Framing returns FramingSSE.
func (p *OpenAI) Framing() transport.Framing { return transport.FramingSSE }

// BuildRequest encodes the history as a streaming chat completion request.
// Images are sent as data URIs in image_url parts.
func (p *OpenAI) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	body := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    OpenAIMessages(req.Params.SystemPrompt, req.Messages),
		Stream:      true,
		Temperature: float32(req.Params.Temperature),
		TopP:        float32(req.Params.TopP),
		MaxTokens:   req.Params.MaxTokens,
	}
	return newJSONRequest(ctx, joinURL(p.cfg.BaseURL, "/chat/completions"), body, p.cfg)
}

// NewNormalizer returns a normalizer for one response stream.
func (p *OpenAI) NewNormalizer() Normalizer {
	return &openAINormalizer{}
}

// OpenAIMessages converts history into go-openai messages. A non-empty
// system prompt is sent first.
func OpenAIMessages(systemPrompt string, history []*model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range history {
		switch msg.Role {
		case model.RoleUser:
			out = append(out, openAIUserMessage(msg))
		case model.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text,
			})
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text,
			})
		}
	}
	return out
}

func openAIUserMessage(msg *model.Message) openai.ChatCompletionMessage {
	text := userText(msg)
	if len(msg.Images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(msg.Images)+1)
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, img := range msg.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    img.DataURI(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// =============================================================================
// NORMALIZER
// =============================================================================

type openAINormalizer struct {
	think thinkFilter
}

// openAIErrorFrame is the error object some servers send mid-stream.
type openAIErrorFrame struct {
	Error *openai.APIError `json:"error"`
}

func (n *openAINormalizer) Normalize(raw transport.RawEvent) []stream.Event {
	var errFrame openAIErrorFrame
	if err := json.Unmarshal(raw.Data, &errFrame); err == nil && errFrame.Error != nil && errFrame.Error.Message != "" {
		return append(n.think.flush(), stream.TerminalError{Reason: errFrame.Error.Message})
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(raw.Data, &chunk); err != nil || len(chunk.Choices) == 0 {
		return nil
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	var out []stream.Event
	if delta.ReasoningContent != "" {
		out = append(out, n.think.feedReasoning(delta.ReasoningContent)...)
	}
	if delta.Content != "" {
		out = append(out, n.think.feed(delta.Content)...)
	}
	if delta.Refusal != "" {
		out = append(out, stream.ContentDelta{Text: delta.Refusal})
	}
	for _, tc := range delta.ToolCalls {
		out = append(out, stream.ToolUpdate{Name: tc.Function.Name, Content: tc.Function.Arguments})
	}

	switch choice.FinishReason {
	case "", openai.FinishReasonNull:
	case openai.FinishReasonLength:
		out = append(out, n.think.flush()...)
		out = append(out, stream.TerminalError{Reason: ReasonLength})
	case openai.FinishReasonContentFilter:
		out = append(out, n.think.flush()...)
		out = append(out, stream.TerminalError{Reason: ReasonSensitive})
	default:
		out = append(out, n.think.flush()...)
		out = append(out, stream.Done{})
	}
	return out
}

func (n *openAINormalizer) Flush() []stream.Event {
	return n.think.flush()
}
