// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

// =============================================================================
// OLLAMA WIRE TYPES
// =============================================================================

// ollamaMessage is a message in an Ollama /api/chat request or response.
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	Images    []string         `json:"images,omitempty"` // raw base64, no data: prefix
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ollamaOptions holds the sampling options Ollama accepts.
type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    *bool           `json:"think,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

// Ollama talks to an Ollama server's /api/chat endpoint over NDJSON.
type Ollama struct {
	cfg Config
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg Config) *Ollama {
	return &Ollama{cfg: cfg}
}

// Name returns "ollama".
func (p *Ollama) Name() string { return "ollama" }

// Model returns the configured model.
func (p *Ollama) Model() string { return p.cfg.Model }

// Framing returns FramingNDJSON.
func (p *Ollama) Framing() transport.Framing { return transport.FramingNDJSON }

// BuildRequest encodes the history as a streaming /api/chat request.
// Images are sent as raw base64 strings.
func (p *Ollama) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	msgs := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.Params.SystemPrompt != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.Params.SystemPrompt})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleUser:
			om := ollamaMessage{Role: "user", Content: userText(msg)}
			for _, img := range msg.Images {
				if len(img.Data) > 0 {
					om.Images = append(om.Images, img.Base64())
				}
			}
			msgs = append(msgs, om)
		case model.RoleAssistant:
			msgs = append(msgs, ollamaMessage{Role: "assistant", Content: msg.Text})
		case model.RoleSystem:
			msgs = append(msgs, ollamaMessage{Role: "system", Content: msg.Text})
		}
	}

	body := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: msgs,
		Stream:   true,
		Options: &ollamaOptions{
			Temperature: req.Params.Temperature,
			TopP:        req.Params.TopP,
			NumPredict:  req.Params.MaxTokens,
		},
	}
	if req.Params.Features.Reasoning {
		think := true
		body.Think = &think
	}
	return newJSONRequest(ctx, joinURL(p.cfg.BaseURL, "/api/chat"), body, p.cfg)
}

// NewNormalizer returns a normalizer for one response stream.
func (p *Ollama) NewNormalizer() Normalizer {
	return &ollamaNormalizer{}
}

// =============================================================================
// NORMALIZER
// =============================================================================

type ollamaNormalizer struct {
	think thinkFilter
}

func (n *ollamaNormalizer) Normalize(raw transport.RawEvent) []stream.Event {
	var chunk ollamaChatChunk
	if err := json.Unmarshal(raw.Data, &chunk); err != nil {
		return nil
	}
	if chunk.Error != "" {
		return append(n.think.flush(), stream.TerminalError{Reason: chunk.Error})
	}

	var out []stream.Event
	if chunk.Message.Thinking != "" {
		out = append(out, n.think.feedReasoning(chunk.Message.Thinking)...)
	}
	if chunk.Message.Content != "" {
		out = append(out, n.think.feed(chunk.Message.Content)...)
	}
	for _, tc := range chunk.Message.ToolCalls {
		out = append(out, stream.ToolUpdate{Name: tc.Function.Name, Content: string(tc.Function.Arguments)})
	}

	if chunk.Done {
		out = append(out, n.think.flush()...)
		if chunk.DoneReason == ReasonLength {
			out = append(out, stream.TerminalError{Reason: ReasonLength})
		} else {
			out = append(out, stream.Done{})
		}
	}
	return out
}

func (n *ollamaNormalizer) Flush() []stream.Event {
	return n.think.flush()
}
