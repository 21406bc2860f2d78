// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/threadline/internal/notice"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

func TestClassify(t *testing.T) {
	n := notice.New("en")

	assert.Equal(t, n.LengthLimit(), Classify(stream.TerminalError{Reason: "length"}, n))
	assert.Equal(t, n.ContentFilter(), Classify(fmt.Errorf("wrapped: %w", stream.TerminalError{Reason: "sensitive"}), n))
	assert.Equal(t, "rate limited", Classify(stream.TerminalError{Reason: "rate limited"}, n))
	assert.Equal(t, "provider error: ", Classify(stream.TerminalError{}, n))
	assert.Equal(t, n.EmptyResult(), Classify(ErrEmptyResult, nil))
	assert.Equal(t, n.Decode(), Classify(&transport.TransportError{Kind: transport.KindDecode}, n))
	assert.Equal(t, "Could not reach the model provider: connection refused",
		Classify(&transport.TransportError{Kind: transport.KindNetwork, Err: errors.New("connection refused")}, n))
	assert.Equal(t, "plain", Classify(errors.New("plain"), n))
}

func TestClassify_Localized(t *testing.T) {
	es := notice.New("es")
	assert.Equal(t, es.LengthLimit(), Classify(stream.TerminalError{Reason: "length"}, es))
	assert.NotEqual(t, notice.New("en").LengthLimit(), es.LengthLimit())
}
