// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// TRANSCRIPT EXPORTER
// =============================================================================

// TranscriptExporter writes a plain-text transcript:
//
//	# Title
//
//	You: first line
//	  continuation line
//
//	Assistant: reply
//
// Each message starts with the role's display name. Every further line of
// the message is indented by two spaces and messages are separated by a
// blank line, so the transcript parses back unambiguously.
type TranscriptExporter struct {
	options *Options
}

// NewTranscriptExporter creates a new transcript exporter.
func NewTranscriptExporter(opts *Options) *TranscriptExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TranscriptExporter{options: opts}
}

const continuationIndent = "  "

// Export converts a conversation to a plain-text transcript.
func (e *TranscriptExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	var buf bytes.Buffer
	if conv.Title != "" {
		fmt.Fprintf(&buf, "# %s\n\n", strings.ReplaceAll(conv.Title, "\n", " "))
	}

	first := true
	for _, msg := range conv.Messages {
		if !exportable(msg, e.options) {
			continue
		}
		if !first {
			buf.WriteByte('\n')
		}
		first = false

		lines := strings.Split(strings.TrimRight(msg.Text, "\n"), "\n")
		fmt.Fprintf(&buf, "%s: %s\n", msg.Role.DisplayName(), lines[0])
		for _, line := range lines[1:] {
			buf.WriteString(continuationIndent)
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// FileExtension returns ".txt".
func (e *TranscriptExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for plain text.
func (e *TranscriptExporter) MimeType() string {
	return "text/plain"
}

// Import parses a transcript produced by Export. Lines that neither start
// a message nor continue one are rejected.
func (e *TranscriptExporter) Import(data []byte) (*model.Conversation, error) {
	var (
		title   string
		msgs    []*model.Message
		current *model.Message
		lineNo  int
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case lineNo == 1 && strings.HasPrefix(line, "# "):
			title = strings.TrimPrefix(line, "# ")
		case line == "":
			current = nil
		case strings.HasPrefix(line, continuationIndent) && current != nil:
			current.Text += "\n" + strings.TrimPrefix(line, continuationIndent)
		default:
			role, text, ok := parseSpeaker(line)
			if !ok {
				return nil, fmt.Errorf("transcript line %d: no speaker in %q", lineNo, line)
			}
			current = model.NewMessage(role, text)
			msgs = append(msgs, current)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return rebuild(title, msgs)
}

var speakers = []model.Role{
	model.RoleUser,
	model.RoleAssistant,
	model.RoleInformation,
	model.RoleSearch,
	model.RoleError,
	model.RoleSystem,
}

// parseSpeaker splits "Name: text" into its role and text.
func parseSpeaker(line string) (model.Role, string, bool) {
	name, text, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	for _, role := range speakers {
		if role.DisplayName() == name {
			return role, strings.TrimPrefix(text, " "), true
		}
	}
	return "", "", false
}
