// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/threadline/internal/model"
)

// Message and conversation bodies are stored as JSON. Transient streaming
// fields carry `json:"-"` and never reach storage.

func encodeMessage(msg *model.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func encodeConversation(conv *model.Conversation) ([]byte, error) {
	meta := *conv
	meta.Messages = nil
	data, err := json.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	return data, nil
}

func decodeConversation(data []byte) (*model.Conversation, error) {
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	conv.Messages = nil
	return &conv, nil
}
