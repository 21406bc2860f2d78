// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import "time"

// reasoningClock accumulates the duration of contiguous reasoning spans.
// A span opens on the first reasoning delta and closes when answer content
// or an image arrives, or when the turn ends.
type reasoningClock struct {
	open     bool
	openedAt time.Time
	total    time.Duration
	spans    int
}

// start opens a span unless one is already open.
func (r *reasoningClock) start(now time.Time) {
	if r.open {
		return
	}
	r.open = true
	r.openedAt = now
}

// stop closes the open span and reports whether one was open.
func (r *reasoningClock) stop(now time.Time) bool {
	if !r.open {
		return false
	}
	if d := now.Sub(r.openedAt); d > 0 {
		r.total += d
	}
	r.open = false
	r.spans++
	return true
}

// Total returns the summed duration of closed spans.
func (r *reasoningClock) Total() time.Duration {
	return r.total
}
