// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/threadline/internal/model"
)

// flushGate batches updates to one message. Changes mark it dirty; a flush
// is taken only when the limiter has a token, so flushes of the same
// message are at least one interval apart.
type flushGate struct {
	msg      *model.Message
	limiter  *rate.Limiter
	interval time.Duration
	dirty    bool
}

// newFlushGate creates a gate and spends its first token, so the first
// flush after creation waits a full interval.
func newFlushGate(msg *model.Message, interval time.Duration, now time.Time) *flushGate {
	g := &flushGate{
		msg:      msg,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
	g.limiter.AllowN(now, 1)
	return g
}

// mark records a pending change.
func (g *flushGate) mark() {
	g.dirty = true
}

// tryFlush flushes the message if it is dirty and the interval has passed.
func (g *flushGate) tryFlush(now time.Time) bool {
	if !g.dirty || !g.limiter.AllowN(now, 1) {
		return false
	}
	g.flush(now)
	return true
}

// flush stamps the message regardless of the limiter.
func (g *flushGate) flush(now time.Time) {
	g.msg.Touch(now)
	g.dirty = false
}

// wait returns how long until a pending change may flush. ok is false when
// nothing is pending.
func (g *flushGate) wait(now time.Time) (d time.Duration, ok bool) {
	if !g.dirty {
		return 0, false
	}
	tokens := g.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0, true
	}
	return time.Duration((1 - tokens) * float64(g.interval)), true
}
