// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/util"
)

var (
	// ErrUnsupportedFormat is returned for an unknown format name.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrNilConversation is returned when exporting nothing.
	ErrNilConversation = errors.New("conversation is nil")

	// ErrNoMessages is returned when an import yields no messages.
	ErrNoMessages = errors.New("no messages found")
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".json").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Importer reads a conversation back from an exported form. Imported
// messages get fresh IDs and strictly increasing timestamps.
type Importer interface {
	Import(data []byte) (*model.Conversation, error)
}

// Format names an export format.
type Format string

const (
	FormatTranscript Format = "transcript"
	FormatJSON       Format = "json"
	FormatOpenAI     Format = "openai"
	FormatMarkdown   Format = "markdown"
	FormatYAML       Format = "yaml"
)

// Formats returns every supported format, sorted.
func Formats() []Format {
	out := []Format{FormatTranscript, FormatJSON, FormatOpenAI, FormatMarkdown, FormatYAML}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseFormat resolves a format name or common alias.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "transcript", "text", "txt":
		return FormatTranscript, nil
	case "json":
		return FormatJSON, nil
	case "openai":
		return FormatOpenAI, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// FormatForPath guesses a format from a file extension.
func FormatForPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// NewExporter returns the exporter for a format.
func NewExporter(format Format, opts *Options) (Exporter, error) {
	switch format {
	case FormatTranscript:
		return NewTranscriptExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatOpenAI:
		return NewOpenAIExporter(), nil
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatYAML:
		return NewYAMLExporter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// NewImporter returns the importer for a format. Markdown is export-only.
func NewImporter(format Format) (Importer, error) {
	switch format {
	case FormatTranscript:
		return NewTranscriptExporter(nil), nil
	case FormatJSON:
		return NewJSONExporter(nil), nil
	case FormatOpenAI:
		return NewOpenAIExporter(), nil
	case FormatYAML:
		return NewYAMLExporter(), nil
	default:
		return nil, fmt.Errorf("%w: cannot import %s", ErrUnsupportedFormat, format)
	}
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata includes metadata header (timestamp, model, stats).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// IncludeNotices keeps information, search and error messages in
	// human-readable exports.
	IncludeNotices bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		IncludeNotices:    true,
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a conversation to a file using the specified exporter.
// Returns the output file path or an error.
func ExportToFile(conv *model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.DisplayTitle()),
		timestamp,
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(outputPath); err != nil {
			// Non-fatal - file was still created successfully
			slog.Warn("could not open exported file", "path", outputPath, "error", err)
		}
	}

	return outputPath, nil
}

// ImportFile reads a conversation from path, choosing the importer by
// file extension.
func ImportFile(path string) (*model.Conversation, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	importer, err := NewImporter(format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return importer.Import(data)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	maxLen := 50
	runes := []rune(s)
	if len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := []rune{}
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

// exportable reports whether msg belongs in a human-readable export.
func exportable(msg *model.Message, opts *Options) bool {
	if msg.Streaming {
		return false
	}
	switch msg.Role {
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		return true
	default:
		return opts.IncludeNotices
	}
}

// rebuild assembles an imported conversation. Messages are appended in
// order so timestamps stay strictly increasing.
func rebuild(title string, msgs []*model.Message) (*model.Conversation, error) {
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	conv := model.NewConversation()
	conv.Title = strings.TrimSpace(title)
	base := time.Now().Add(-time.Duration(len(msgs)) * time.Second)
	for i, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = base.Add(time.Duration(i) * time.Second)
		}
		conv.Append(msg)
	}
	conv.LastEdited = conv.LastMessage().Timestamp
	return conv, nil
}

// formatDuration formats a duration to a human-readable string.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	minutes := int(seconds / 60)
	remainingSeconds := int(seconds) % 60
	return fmt.Sprintf("%dm %ds", minutes, remainingSeconds)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
