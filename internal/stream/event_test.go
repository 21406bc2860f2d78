// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func allEvents() []Event {
	return []Event{
		ContentDelta{}, ReasoningDelta{}, ToolUpdate{}, ResourceSet{}, ImageSet{},
		ImageCaption{}, DocumentCaption{}, AutoTitle{}, SearchResult{}, LocationSet{},
		RouteSet{}, EventSet{}, HTMLSet{}, HealthSet{}, CodeSet{}, KnowledgeSet{},
		CanvasUpdate{}, AudioAsset{}, OperationalStatus{}, OperationalDetail{},
		SplitMarker{}, TerminalError{}, Done{},
	}
}

func TestKindsAreDistinct(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, ev := range allEvents() {
		k := ev.Kind()
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, 23)
}

func TestIsVisible(t *testing.T) {
	assert.True(t, IsVisible(ContentDelta{Text: "x"}))
	assert.True(t, IsVisible(SplitMarker{}))
	assert.False(t, IsVisible(Done{}))
	assert.False(t, IsVisible(TerminalError{Reason: "length"}))
}

func TestTerminalErrorIsError(t *testing.T) {
	var err error = TerminalError{Reason: "sensitive"}
	var te TerminalError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "sensitive", te.Reason)
	assert.Equal(t, "provider error: sensitive", err.Error())
}
