// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	// DimStyle is used for IDs, timestamps and notices.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SuccessStyle is used for success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	// ErrorStyle is used for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// WarningStyle is used for warnings and cancellations.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// PromptStyle is the chat prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	roleStyles = map[model.Role]lipgloss.Style{
		model.RoleUser:        lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		model.RoleAssistant:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true),
		model.RoleInformation: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.RoleError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		model.RoleSearch:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.RoleSystem:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// paint renders s with style when colors are enabled.
func paint(style lipgloss.Style, s string) string {
	if !ColorsEnabled() {
		return s
	}
	return style.Render(s)
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders content for the terminal. It returns content
// unchanged when colors are off or rendering fails.
func renderMarkdown(content string, width int) string {
	if !ColorsEnabled() {
		return content
	}
	markdownOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	out, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// =============================================================================
// MESSAGE RENDERING
// =============================================================================

// printMessage writes one message with its speaker line.
func printMessage(w io.Writer, msg *model.Message, width int) {
	speaker := msg.Role.DisplayName()
	fmt.Fprintf(w, "%s %s\n", paint(roleStyles[msg.Role], speaker), paint(DimStyle, msg.Timestamp.Format("15:04")))

	if msg.ReasoningText != "" {
		label := msg.ReasoningElapsed
		if label == "" {
			label = "Reasoning"
		}
		fmt.Fprintln(w, paint(DimStyle, "  "+label))
	}
	switch msg.Role {
	case model.RoleAssistant:
		fmt.Fprint(w, renderMarkdown(msg.Text, width))
	case model.RoleInformation, model.RoleError:
		fmt.Fprintln(w, paint(roleStyles[msg.Role], WrapText(msg.Text, width)))
	default:
		fmt.Fprintln(w, WrapText(msg.Text, width))
	}
	for _, img := range msg.Images {
		fmt.Fprintln(w, paint(DimStyle, fmt.Sprintf("[image %s, %d bytes]", img.MIMEType, len(img.Data))))
	}
	for _, doc := range msg.Documents {
		fmt.Fprintln(w, paint(DimStyle, "[attached "+doc.Name+"]"))
	}
}

// printConversation writes every message of conv.
func printConversation(w io.Writer, conv *model.Conversation, width int) {
	fmt.Fprintln(w, paint(TitleStyle, conv.DisplayTitle()))
	fmt.Fprintln(w, paint(DimStyle, conv.ID))
	for _, msg := range conv.Messages {
		fmt.Fprintln(w)
		printMessage(w, msg, width)
	}
}

// printField writes "label value".
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", paint(LabelStyle, label), value)
}
