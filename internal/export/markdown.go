// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/threadline/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// frontmatter is the YAML header written above the transcript.
type frontmatter struct {
	Title    string `yaml:"title"`
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Date     string `yaml:"date"`
	Updated  string `yaml:"updated"`
	Messages int    `yaml:"messages"`
	Exported string `yaml:"exported"`
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder
	title := conv.DisplayTitle()

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontmatter{
			Title:    title,
			Provider: conv.Provider,
			Model:    conv.Model,
			Date:     conv.CreatedAt.Format(time.RFC3339),
			Updated:  conv.LastEdited.Format(time.RFC3339),
			Messages: len(conv.Messages),
			Exported: e.now().Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("encode frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		if conv.Model != "" {
			fmt.Fprintf(&sb, "- **Model**: %s\n", conv.Model)
		}
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Edited**: %s\n", formatTimestamp(conv.LastEdited))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(conv.Messages))
		if prompt := conv.Params.SystemPrompt; prompt != "" {
			fmt.Fprintf(&sb, "- **System Prompt**: %s\n", strings.ReplaceAll(prompt, "\n", " "))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	first := true
	for _, msg := range conv.Messages {
		if !exportable(msg, e.options) {
			continue
		}
		if !first {
			sb.WriteString("---\n\n")
		}
		first = false

		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", msg.Role.DisplayName(), formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", msg.Role.DisplayName())
		}

		if msg.ReasoningText != "" {
			sb.WriteString(e.formatReasoning(msg))
		}
		if msg.ToolName != "" || msg.ToolContent != "" {
			sb.WriteString(e.formatTool(msg))
		}
		if text := strings.TrimSpace(msg.Text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
		for i, img := range msg.Images {
			alt := fmt.Sprintf("image %d", i+1)
			if msg.ImageCaption != "" {
				alt = msg.ImageCaption
			}
			if img.URL != "" {
				fmt.Fprintf(&sb, "![%s](%s)\n\n", escapeMarkdown(alt), img.URL)
			} else {
				fmt.Fprintf(&sb, "*[%s, %s]*\n\n", escapeMarkdown(alt), img.MIMEType)
			}
		}
		for _, doc := range msg.Documents {
			fmt.Fprintf(&sb, "*Attached: %s*\n\n", escapeMarkdown(doc.Name))
		}
		if len(msg.Resources) > 0 {
			sb.WriteString(e.formatResources(msg.Resources))
		}
		for _, block := range msg.CodeBlocks {
			fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", block.Language, strings.TrimRight(block.Code, "\n"))
		}

		if msg.Stats != nil && e.options.IncludeMetadata {
			if stats := e.formatStats(msg.Stats); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from threadline on %s*\n", e.now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatReasoning renders reasoning text as a collapsed details block.
func (e *MarkdownExporter) formatReasoning(msg *model.Message) string {
	summary := msg.ReasoningElapsed
	if summary == "" {
		summary = "Reasoning"
	}
	return fmt.Sprintf("<details>\n<summary>%s</summary>\n\n%s\n\n</details>\n\n",
		summary, strings.TrimSpace(msg.ReasoningText))
}

// formatTool formats a tool invocation.
func (e *MarkdownExporter) formatTool(msg *model.Message) string {
	var sb strings.Builder
	if msg.ToolName != "" {
		fmt.Fprintf(&sb, "**Tool**: `%s`\n\n", msg.ToolName)
	}
	if msg.ToolContent != "" {
		sb.WriteString("```\n")
		sb.WriteString(strings.TrimRight(msg.ToolContent, "\n"))
		sb.WriteString("\n```\n\n")
	}
	return sb.String()
}

func (e *MarkdownExporter) formatResources(resources []model.Resource) string {
	var sb strings.Builder
	sb.WriteString("**Sources**:\n\n")
	for _, r := range resources {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(&sb, "- [%s](%s)\n", escapeMarkdown(title), r.URL)
	}
	sb.WriteString("\n")
	return sb.String()
}

// formatStats formats statistics for a message.
func (e *MarkdownExporter) formatStats(stats *model.Statistics) string {
	var parts []string
	if stats.TotalDuration > 0 {
		parts = append(parts, "Duration: "+formatDuration(stats.TotalDuration))
	}
	if stats.TTFT > 0 {
		parts = append(parts, "TTFT: "+formatDuration(stats.TTFT))
	}
	if stats.Reasoning > 0 {
		parts = append(parts, "Reasoning: "+formatDuration(stats.Reasoning))
	}
	if stats.Events > 0 {
		parts = append(parts, fmt.Sprintf("Events: %d", stats.Events))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}
