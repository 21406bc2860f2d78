// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"strings"
)

// =============================================================================
// MEDIA
// =============================================================================

// Image is an image attached to or produced by a message.
// Data holds the raw bytes; URL is set instead for remote images.
type Image struct {
	MIMEType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty" yaml:"data,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Base64 returns the image bytes as standard base64.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the image as a data URI, or the remote URL when the
// image has no inline bytes.
func (i Image) DataURI() string {
	if len(i.Data) == 0 {
		return i.URL
	}
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + i.Base64()
}

// ParseDataURI decodes a data URI produced by DataURI. Plain URLs come back
// as a remote image.
func ParseDataURI(uri string) (Image, error) {
	if !strings.HasPrefix(uri, "data:") {
		return Image{URL: uri}, nil
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return Image{}, ErrInvalidDataURI
	}
	mime := strings.TrimSuffix(header, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, ErrInvalidDataURI
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// Document is a non-image attachment. Text is the extracted plain text
// forwarded to the model.
type Document struct {
	Name     string `json:"name" yaml:"name"`
	MIMEType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// AudioAsset is a generated audio clip.
type AudioAsset struct {
	MIMEType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty" yaml:"data,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// =============================================================================
// STRUCTURED CARDS
// =============================================================================

// Resource is a cited web or document source.
type Resource struct {
	Title   string `json:"title" yaml:"title"`
	URL     string `json:"url" yaml:"url"`
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
}

// Location is a map pin.
type Location struct {
	Name      string  `json:"name" yaml:"name"`
	Address   string  `json:"address,omitempty" yaml:"address,omitempty"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Route is a directions card between two places.
type Route struct {
	From       string  `json:"from" yaml:"from"`
	To         string  `json:"to" yaml:"to"`
	Mode       string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	DistanceKM float64 `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	Minutes    float64 `json:"minutes,omitempty" yaml:"minutes,omitempty"`
}

// CalendarEvent is an event card.
type CalendarEvent struct {
	Title    string `json:"title" yaml:"title"`
	Start    string `json:"start,omitempty" yaml:"start,omitempty"`
	End      string `json:"end,omitempty" yaml:"end,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// HealthRecord is a single health metric sample.
type HealthRecord struct {
	Metric string  `json:"metric" yaml:"metric"`
	Value  float64 `json:"value" yaml:"value"`
	Unit   string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Date   string  `json:"date,omitempty" yaml:"date,omitempty"`
}

// CodeBlock is a code snippet, optionally with its execution output.
type CodeBlock struct {
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Code     string `json:"code" yaml:"code"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
}

// KnowledgeCard is an excerpt from the user's knowledge base.
type KnowledgeCard struct {
	Source  string `json:"source" yaml:"source"`
	Excerpt string `json:"excerpt" yaml:"excerpt"`
}

// CanvasDocument is the conversation's shared canvas. Updates replace it.
type CanvasDocument struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Content string `json:"content" yaml:"content"`
}
