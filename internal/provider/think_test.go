// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/threadline/internal/stream"
)

// split collapses events into the text and reasoning they carry.
func split(events []stream.Event) (text, reasoning string) {
	var t, r strings.Builder
	for _, ev := range events {
		switch ev := ev.(type) {
		case stream.ContentDelta:
			t.WriteString(ev.Text)
		case stream.ReasoningDelta:
			r.WriteString(ev.Text)
		}
	}
	return t.String(), r.String()
}

func TestThinkSplitter_SingleChunk(t *testing.T) {
	var s thinkSplitter
	events := append(s.feed("<think>plan</think>Answer"), s.flush()...)
	text, reasoning := split(events)
	assert.Equal(t, "Answer", text)
	assert.Equal(t, "plan", reasoning)
}

func TestThinkSplitter_TagsAcrossChunks(t *testing.T) {
	chunks := []string{"<th", "ink>a", "b</th", "in", "k>He", "llo <", "3"}

	var s thinkSplitter
	var events []stream.Event
	for _, c := range chunks {
		events = append(events, s.feed(c)...)
	}
	events = append(events, s.flush()...)

	text, reasoning := split(events)
	assert.Equal(t, "Hello <3", text)
	assert.Equal(t, "ab", reasoning)
}

func TestThinkSplitter_ThinkingVariantCaseInsensitive(t *testing.T) {
	var s thinkSplitter
	events := append(s.feed("<THINKING>x</Thinking>y"), s.flush()...)
	text, reasoning := split(events)
	assert.Equal(t, "y", text)
	assert.Equal(t, "x", reasoning)
}

func TestThinkSplitter_NoTags(t *testing.T) {
	var s thinkSplitter
	events := s.feed("plain text")
	assert.Equal(t, []stream.Event{stream.ContentDelta{Text: "plain text"}}, events)
	assert.Empty(t, s.flush())
}

func TestThinkSplitter_UnclosedThinkFlushesAsReasoning(t *testing.T) {
	var s thinkSplitter
	events := append(s.feed("<think>still going</"), s.flush()...)
	text, reasoning := split(events)
	assert.Empty(t, text)
	assert.Equal(t, "still going</", reasoning)
}

func TestPartialTagSuffix(t *testing.T) {
	assert.Equal(t, 0, partialTagSuffix("hello", openThinkTags))
	assert.Equal(t, 1, partialTagSuffix("hello<", openThinkTags))
	assert.Equal(t, 6, partialTagSuffix("x<think", openThinkTags))
	assert.Equal(t, 3, partialTagSuffix("ab</t", closeThinkTags))
}

func TestThinkStripper_TagsAcrossChunks(t *testing.T) {
	var s thinkStripper
	var events []stream.Event
	for _, chunk := range []string{"<think>plan", " more</th", "ink>", " done <"} {
		events = append(events, s.feed(chunk)...)
	}
	events = append(events, s.flush()...)

	text, reasoning := split(events)
	assert.Empty(t, text)
	assert.Equal(t, "plan more done <", reasoning)
}

func TestThinkStripper_ThinkingVariant(t *testing.T) {
	var s thinkStripper
	events := append(s.feed("<THINKING>step one</thinking>"), s.flush()...)
	_, reasoning := split(events)
	assert.Equal(t, "step one", reasoning)
}

func TestThinkFilter_ReleasesHeldReasoningBeforeContent(t *testing.T) {
	var f thinkFilter
	events := f.feedReasoning("a <")
	events = append(events, f.feed("Answer")...)
	events = append(events, f.flush()...)

	assert.Equal(t, []stream.Event{
		stream.ReasoningDelta{Text: "a "},
		stream.ReasoningDelta{Text: "<"},
		stream.ContentDelta{Text: "Answer"},
	}, events)
}
