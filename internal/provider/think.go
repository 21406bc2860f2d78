// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"

	"github.com/jeranaias/threadline/internal/stream"
)

// =============================================================================
// THINK TAG SPLITTER
// =============================================================================

var (
	openThinkTags  = []string{"<think>", "<thinking>"}
	closeThinkTags = []string{"</think>", "</thinking>"}
)

// thinkSplitter routes text inside <think>...</think> (or <thinking>) markup
// to reasoning deltas and strips the tags. Tags may be split across chunks,
// so a trailing fragment that could start a tag is held back until the next
// chunk arrives.
type thinkSplitter struct {
	inThink bool
	pending string
}

// feed consumes one content chunk.
func (t *thinkSplitter) feed(chunk string) []stream.Event {
	buf := t.pending + chunk
	t.pending = ""

	var out []stream.Event
	for buf != "" {
		tags := openThinkTags
		if t.inThink {
			tags = closeThinkTags
		}

		if idx, n := indexAnyFold(buf, tags); idx >= 0 {
			out = t.emit(out, buf[:idx])
			buf = buf[idx+n:]
			t.inThink = !t.inThink
			continue
		}

		keep := partialTagSuffix(buf, tags)
		out = t.emit(out, buf[:len(buf)-keep])
		t.pending = buf[len(buf)-keep:]
		break
	}
	return out
}

// flush releases any held-back fragment at end of stream.
func (t *thinkSplitter) flush() []stream.Event {
	rest := t.pending
	t.pending = ""
	return t.emit(nil, rest)
}

func (t *thinkSplitter) emit(out []stream.Event, text string) []stream.Event {
	if text == "" {
		return out
	}
	if t.inThink {
		return append(out, stream.ReasoningDelta{Text: text})
	}
	return append(out, stream.ContentDelta{Text: text})
}

// =============================================================================
// REASONING TAG STRIPPER
// =============================================================================

var thinkTags = append(append([]string(nil), openThinkTags...), closeThinkTags...)

// thinkStripper removes <think> markup from text that already arrives on a
// reasoning channel. Like thinkSplitter it holds back a trailing fragment
// that could start a tag.
type thinkStripper struct {
	pending string
}

// feed consumes one reasoning chunk.
func (t *thinkStripper) feed(chunk string) []stream.Event {
	buf := t.pending + chunk
	t.pending = ""

	var b strings.Builder
	for {
		idx, n := indexAnyFold(buf, thinkTags)
		if idx < 0 {
			break
		}
		b.WriteString(buf[:idx])
		buf = buf[idx+n:]
	}
	keep := partialTagSuffix(buf, thinkTags)
	b.WriteString(buf[:len(buf)-keep])
	t.pending = buf[len(buf)-keep:]
	return reasoningDelta(b.String())
}

// flush releases any held-back fragment.
func (t *thinkStripper) flush() []stream.Event {
	rest := t.pending
	t.pending = ""
	return reasoningDelta(rest)
}

func reasoningDelta(text string) []stream.Event {
	if text == "" {
		return nil
	}
	return []stream.Event{stream.ReasoningDelta{Text: text}}
}

// =============================================================================
// THINK FILTER
// =============================================================================

// thinkFilter is the per-stream think markup handling shared by the
// normalizers: content goes through a splitter, reasoning through a
// stripper.
type thinkFilter struct {
	content   thinkSplitter
	reasoning thinkStripper
}

// feed consumes a content chunk. Held-back reasoning is released first so
// events keep their order.
func (f *thinkFilter) feed(chunk string) []stream.Event {
	return append(f.reasoning.flush(), f.content.feed(chunk)...)
}

// feedReasoning consumes a reasoning chunk.
func (f *thinkFilter) feedReasoning(chunk string) []stream.Event {
	return f.reasoning.feed(chunk)
}

// flush releases everything held back at end of stream.
func (f *thinkFilter) flush() []stream.Event {
	return append(f.reasoning.flush(), f.content.flush()...)
}

// indexAnyFold returns the earliest ASCII case-insensitive match of any tag
// and the length of the matched tag.
func indexAnyFold(s string, tags []string) (int, int) {
	for i := 0; i < len(s); i++ {
		if s[i] != '<' {
			continue
		}
		for _, tag := range tags {
			if len(s)-i >= len(tag) && strings.EqualFold(s[i:i+len(tag)], tag) {
				return i, len(tag)
			}
		}
	}
	return -1, 0
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of one of the tags.
func partialTagSuffix(s string, tags []string) int {
	longest := 0
	for _, tag := range tags {
		longest = max(longest, len(tag)-1)
	}
	for k := min(len(s), longest); k > 0; k-- {
		suffix := s[len(s)-k:]
		for _, tag := range tags {
			if len(tag) > k && strings.EqualFold(tag[:k], suffix) {
				return k
			}
		}
	}
	return 0
}
