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
// RELAY WIRE TYPES
// =============================================================================

// relayMessage is one history entry sent to the relay gateway.
type relayMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"` // data URIs
	Documents []model.Document `json:"documents,omitempty"`
}

type relayRequest struct {
	ConversationID string                `json:"conversation_id"`
	Model          string                `json:"model,omitempty"`
	SystemPrompt   string                `json:"system_prompt,omitempty"`
	Messages       []relayMessage        `json:"messages"`
	Temperature    float64               `json:"temperature"`
	TopP           float64               `json:"top_p"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Features       model.Features        `json:"features"`
	Canvas         *model.CanvasDocument `json:"canvas,omitempty"`
}

// =============================================================================
// RELAY PROVIDER
// =============================================================================

// Relay talks to the application's own gateway, which streams the full
// event set as named SSE events whose names match stream.Kind values.
type Relay struct {
	cfg Config
}

// NewRelay creates a relay gateway provider.
func NewRelay(cfg Config) *Relay {
	return &Relay{cfg: cfg}
}

// Name returns "relay".
func (p *Relay) Name() string { return "relay" }

// Model returns the configured model.
func (p *Relay) Model() string { return p.cfg.Model }

// Framing returns FramingSSE.
func (p *Relay) Framing() transport.Framing { return transport.FramingSSE }

// BuildRequest encodes the turn for the relay gateway.
func (p *Relay) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	msgs := make([]relayMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		rm := relayMessage{Role: msg.Role.String(), Content: msg.Text, Documents: msg.Documents}
		for _, img := range msg.Images {
			rm.Images = append(rm.Images, img.DataURI())
		}
		msgs = append(msgs, rm)
	}

	body := relayRequest{
		ConversationID: req.ConversationID,
		Model:          p.cfg.Model,
		SystemPrompt:   req.Params.SystemPrompt,
		Messages:       msgs,
		Temperature:    req.Params.Temperature,
		TopP:           req.Params.TopP,
		MaxTokens:      req.Params.MaxTokens,
		Features:       req.Params.Features,
		Canvas:         req.Canvas,
	}
	return newJSONRequest(ctx, joinURL(p.cfg.BaseURL, "/v1/chat/stream"), body, p.cfg)
}

// NewNormalizer returns a normalizer for one response stream.
func (p *Relay) NewNormalizer() Normalizer {
	return &relayNormalizer{}
}

// =============================================================================
// NORMALIZER
// =============================================================================

type relayNormalizer struct {
	think thinkFilter
}

// relayPayload is the union of all relay event bodies. Each event kind
// reads only its own fields.
type relayPayload struct {
	Text      string                `json:"text"`
	Name      string                `json:"name"`
	Content   string                `json:"content"`
	HTML      string                `json:"html"`
	Title     string                `json:"title"`
	Caption   string                `json:"caption"`
	Query     string                `json:"query"`
	Status    string                `json:"status"`
	Detail    string                `json:"detail"`
	Reason    string                `json:"reason"`
	Images    []model.Image         `json:"images"`
	Resources []model.Resource      `json:"resources"`
	Locations []model.Location      `json:"locations"`
	Routes    []model.Route         `json:"routes"`
	Events    []model.CalendarEvent `json:"events"`
	Records   []model.HealthRecord  `json:"records"`
	Blocks    []model.CodeBlock     `json:"blocks"`
	Cards     []model.KnowledgeCard `json:"cards"`
	Canvas    *model.CanvasDocument `json:"canvas"`
	Audio     *model.AudioAsset     `json:"audio"`
}

func (n *relayNormalizer) Normalize(raw transport.RawEvent) []stream.Event {
	kind := stream.Kind(raw.Event)
	if kind == "" {
		kind = stream.KindContentDelta
	}

	var p relayPayload
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return nil
		}
	}

	switch kind {
	case stream.KindContentDelta:
		return n.think.feed(p.Text)
	case stream.KindReasoningDelta:
		return n.think.feedReasoning(p.Text)
	}

	var ev stream.Event
	switch kind {
	case stream.KindToolUpdate:
		ev = stream.ToolUpdate{Name: p.Name, Content: p.Content}
	case stream.KindResourceSet:
		ev = stream.ResourceSet{Resources: p.Resources}
	case stream.KindImageSet:
		ev = stream.ImageSet{Images: p.Images}
	case stream.KindImageCaption:
		ev = stream.ImageCaption{Caption: p.Caption}
	case stream.KindDocumentCaption:
		ev = stream.DocumentCaption{Text: firstNonEmpty(p.Text, p.Caption)}
	case stream.KindAutoTitle:
		ev = stream.AutoTitle{Title: p.Title}
	case stream.KindSearchResult:
		ev = stream.SearchResult{Query: p.Query, Resources: p.Resources}
	case stream.KindLocationSet:
		ev = stream.LocationSet{Locations: p.Locations}
	case stream.KindRouteSet:
		ev = stream.RouteSet{Routes: p.Routes}
	case stream.KindEventSet:
		ev = stream.EventSet{Events: p.Events}
	case stream.KindHTMLSet:
		ev = stream.HTMLSet{HTML: p.HTML}
	case stream.KindHealthSet:
		ev = stream.HealthSet{Records: p.Records}
	case stream.KindCodeSet:
		ev = stream.CodeSet{Blocks: p.Blocks}
	case stream.KindKnowledgeSet:
		ev = stream.KnowledgeSet{Cards: p.Cards}
	case stream.KindCanvasUpdate:
		if p.Canvas == nil {
			return nil
		}
		ev = stream.CanvasUpdate{Canvas: *p.Canvas}
	case stream.KindAudioAsset:
		if p.Audio == nil {
			return nil
		}
		ev = stream.AudioAsset{Asset: *p.Audio}
	case stream.KindOperationalStatus:
		ev = stream.OperationalStatus{Status: p.Status}
	case stream.KindOperationalDetail:
		ev = stream.OperationalDetail{Detail: p.Detail}
	case stream.KindSplitMarker:
		return append(n.think.flush(), stream.SplitMarker{})
	case stream.KindTerminalError:
		return append(n.think.flush(), stream.TerminalError{Reason: firstNonEmpty(p.Reason, p.Text)})
	case stream.KindDone:
		return append(n.think.flush(), stream.Done{})
	default:
		return nil
	}
	return []stream.Event{ev}
}

func (n *relayNormalizer) Flush() []stream.Event {
	return n.think.flush()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
