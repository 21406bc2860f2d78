// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/offline"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownProvider is returned for a provider name outside the closed set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotConfigured is returned when a provider lacks a base URL or model.
	ErrNotConfigured = errors.New("provider not configured")
)

// =============================================================================
// INTERFACES
// =============================================================================

// Provider turns a conversation into an HTTP request and supplies the
// normalizer for the response stream.
type Provider interface {
	Name() string
	Model() string
	Framing() transport.Framing
	BuildRequest(ctx context.Context, req Request) (*http.Request, error)
	NewNormalizer() Normalizer
}

// Normalizer maps raw frames of one response to stream events. A normalizer
// is used for a single stream and may keep state between frames. It never
// fails: frames it cannot decode produce no events.
type Normalizer interface {
	Normalize(raw transport.RawEvent) []stream.Event
	// Flush returns events still buffered at end of stream.
	Flush() []stream.Event
}

// Request is the provider-neutral input for one turn.
type Request struct {
	ConversationID string
	Messages       []*model.Message // oldest first
	Params         model.GenerationParams
	Canvas         *model.CanvasDocument
}

// Config selects and configures a provider.
type Config struct {
	Name    string            `toml:"name" json:"name" validate:"required,oneof=openai ollama relay"`
	BaseURL string            `toml:"base_url" json:"base_url" validate:"required,url"`
	APIKey  string            `toml:"api_key" json:"-"`
	Model   string            `toml:"model" json:"model"`
	Headers map[string]string `toml:"headers" json:"headers,omitempty"`

	// LocalOnly refuses any base URL or request host that is not loopback.
	LocalOnly bool `toml:"local_only" json:"local_only"`
}

// =============================================================================
// REGISTRY
// =============================================================================

type factory func(Config) Provider

var registry = map[string]factory{
	"openai": func(c Config) Provider { return NewOpenAI(c) },
	"ollama": func(c Config) Provider { return NewOllama(c) },
	"relay":  func(c Config) Provider { return NewRelay(c) },
}

// Names returns the supported provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the provider named by cfg.Name.
func New(cfg Config) (Provider, error) {
	f, ok := registry[strings.ToLower(cfg.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s has no base_url", ErrNotConfigured, cfg.Name)
	}
	if err := offline.ValidateURL(cfg.BaseURL, cfg.LocalOnly); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	return f(cfg), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newJSONRequest builds a POST request with a JSON body.
func newJSONRequest(ctx context.Context, url string, body any, cfg Config) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// userText returns the message text with extracted document text appended.
func userText(msg *model.Message) string {
	if len(msg.Documents) == 0 {
		return msg.Text
	}
	var sb strings.Builder
	sb.WriteString(msg.Text)
	for _, doc := range msg.Documents {
		if doc.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Document: %s]\n%s", doc.Name, doc.Text)
	}
	return sb.String()
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
