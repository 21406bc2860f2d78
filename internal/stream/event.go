// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind identifies the variant of an Event.
type Kind string

const (
	KindContentDelta      Kind = "contentDelta"
	KindReasoningDelta    Kind = "reasoningDelta"
	KindToolUpdate        Kind = "toolUpdate"
	KindResourceSet       Kind = "resourceSet"
	KindImageSet          Kind = "imageSet"
	KindImageCaption      Kind = "imageCaption"
	KindDocumentCaption   Kind = "documentCaption"
	KindAutoTitle         Kind = "autoTitle"
	KindSearchResult      Kind = "searchResult"
	KindLocationSet       Kind = "locationSet"
	KindRouteSet          Kind = "routeSet"
	KindEventSet          Kind = "eventSet"
	KindHTMLSet           Kind = "htmlSet"
	KindHealthSet         Kind = "healthSet"
	KindCodeSet           Kind = "codeSet"
	KindKnowledgeSet      Kind = "knowledgeSet"
	KindCanvasUpdate      Kind = "canvasUpdate"
	KindAudioAsset        Kind = "audioAsset"
	KindOperationalStatus Kind = "operationalStatus"
	KindOperationalDetail Kind = "operationalDetail"
	KindSplitMarker       Kind = "splitMarker"
	KindTerminalError     Kind = "terminalError"
	KindDone              Kind = "done"
)

// Event is one normalized unit of a streamed response. The set of
// implementations is closed; each carries exactly one payload.
type Event interface {
	Kind() Kind
	sealed()
}

// =============================================================================
// TEXT EVENTS
// =============================================================================

// ContentDelta appends answer text.
type ContentDelta struct{ Text string }

// ReasoningDelta appends chain-of-thought text.
type ReasoningDelta struct{ Text string }

// ToolUpdate replaces the tool name and appends tool output.
type ToolUpdate struct {
	Name    string
	Content string
}

// HTMLSet replaces the rendered HTML payload.
type HTMLSet struct{ HTML string }

// AutoTitle sets the conversation title.
type AutoTitle struct{ Title string }

// =============================================================================
// MEDIA EVENTS
// =============================================================================

// ImageSet replaces the message images.
type ImageSet struct{ Images []model.Image }

// ImageCaption attaches to the most recent message with uncaptioned images.
type ImageCaption struct{ Caption string }

// DocumentCaption attaches extracted text to the most recent message with
// documents but no document text.
type DocumentCaption struct{ Text string }

// AudioAsset appends a generated audio clip.
type AudioAsset struct{ Asset model.AudioAsset }

// =============================================================================
// CARD EVENTS
// =============================================================================

// ResourceSet replaces the cited sources.
type ResourceSet struct{ Resources []model.Resource }

// SearchResult opens a search message before the current answer.
type SearchResult struct {
	Query     string
	Resources []model.Resource
}

// LocationSet replaces the map pins.
type LocationSet struct{ Locations []model.Location }

// RouteSet replaces the directions cards.
type RouteSet struct{ Routes []model.Route }

// EventSet replaces the calendar cards.
type EventSet struct{ Events []model.CalendarEvent }

// HealthSet replaces the health records.
type HealthSet struct{ Records []model.HealthRecord }

// CodeSet replaces the code blocks.
type CodeSet struct{ Blocks []model.CodeBlock }

// KnowledgeSet replaces the knowledge cards.
type KnowledgeSet struct{ Cards []model.KnowledgeCard }

// CanvasUpdate replaces the conversation canvas.
type CanvasUpdate struct{ Canvas model.CanvasDocument }

// =============================================================================
// CONTROL EVENTS
// =============================================================================

// OperationalStatus sets the transient status line.
type OperationalStatus struct{ Status string }

// OperationalDetail sets the transient status detail.
type OperationalDetail struct{ Detail string }

// SplitMarker closes the current answer message and opens a new one.
type SplitMarker struct{}

// Well-known TerminalError reasons.
const (
	ReasonLength    = "length"
	ReasonSensitive = "sensitive"
)

// TerminalError ends the stream with a provider-signalled failure.
// Reason is a provider code such as "length" or "sensitive", or free text.
type TerminalError struct{ Reason string }

// Error implements error so a TerminalError can end a turn directly.
func (e TerminalError) Error() string { return "provider error: " + e.Reason }

// Done marks an explicit end of stream.
type Done struct{}

// =============================================================================
// KIND IMPLEMENTATIONS
// =============================================================================

func (ContentDelta) Kind() Kind      { return KindContentDelta }
func (ReasoningDelta) Kind() Kind    { return KindReasoningDelta }
func (ToolUpdate) Kind() Kind        { return KindToolUpdate }
func (ResourceSet) Kind() Kind       { return KindResourceSet }
func (ImageSet) Kind() Kind          { return KindImageSet }
func (ImageCaption) Kind() Kind      { return KindImageCaption }
func (DocumentCaption) Kind() Kind   { return KindDocumentCaption }
func (AutoTitle) Kind() Kind         { return KindAutoTitle }
func (SearchResult) Kind() Kind      { return KindSearchResult }
func (LocationSet) Kind() Kind       { return KindLocationSet }
func (RouteSet) Kind() Kind          { return KindRouteSet }
func (EventSet) Kind() Kind          { return KindEventSet }
func (HTMLSet) Kind() Kind           { return KindHTMLSet }
func (HealthSet) Kind() Kind         { return KindHealthSet }
func (CodeSet) Kind() Kind           { return KindCodeSet }
func (KnowledgeSet) Kind() Kind      { return KindKnowledgeSet }
func (CanvasUpdate) Kind() Kind      { return KindCanvasUpdate }
func (AudioAsset) Kind() Kind        { return KindAudioAsset }
func (OperationalStatus) Kind() Kind { return KindOperationalStatus }
func (OperationalDetail) Kind() Kind { return KindOperationalDetail }
func (SplitMarker) Kind() Kind       { return KindSplitMarker }
func (TerminalError) Kind() Kind     { return KindTerminalError }
func (Done) Kind() Kind              { return KindDone }

func (ContentDelta) sealed()      {}
func (ReasoningDelta) sealed()    {}
func (ToolUpdate) sealed()        {}
func (ResourceSet) sealed()       {}
func (ImageSet) sealed()          {}
func (ImageCaption) sealed()      {}
func (DocumentCaption) sealed()   {}
func (AutoTitle) sealed()         {}
func (SearchResult) sealed()      {}
func (LocationSet) sealed()       {}
func (RouteSet) sealed()          {}
func (EventSet) sealed()          {}
func (HTMLSet) sealed()           {}
func (HealthSet) sealed()         {}
func (CodeSet) sealed()           {}
func (KnowledgeSet) sealed()      {}
func (CanvasUpdate) sealed()      {}
func (AudioAsset) sealed()        {}
func (OperationalStatus) sealed() {}
func (OperationalDetail) sealed() {}
func (SplitMarker) sealed()       {}
func (TerminalError) sealed()     {}
func (Done) sealed()              {}

// IsVisible reports whether applying the event changes what a viewer sees
// and therefore warrants a flush.
func IsVisible(ev Event) bool {
	switch ev.(type) {
	case Done, TerminalError:
		return false
	default:
		return true
	}
}
