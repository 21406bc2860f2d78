// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/threadline/internal/model"
)

func sampleConversation() *model.Conversation {
	conv := model.NewConversation()
	conv.Title = "Trip planning"
	conv.Model = "gpt-4o"
	conv.Params.SystemPrompt = "Be brief."
	conv.Append(model.NewMessage(model.RoleUser, "Where should I go?\n\nSomewhere warm."))
	answer := model.NewMessage(model.RoleAssistant, "Try Lisbon.")
	answer.GroupID = "g1"
	answer.ReasoningText = "warm, cheap"
	answer.ReasoningElapsed = "Thought for 2.0 sec"
	answer.Stats = &model.Statistics{TotalDuration: 1500 * time.Millisecond, Events: 4}
	conv.Append(answer)
	conv.Append(model.NewInformationMessage("Response stopped."))
	return conv
}

func roles(conv *model.Conversation) []model.Role {
	out := make([]model.Role, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out = append(out, m.Role)
	}
	return out
}

func texts(conv *model.Conversation) []string {
	out := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out = append(out, m.Text)
	}
	return out
}

// =============================================================================
// FORMAT SELECTION
// =============================================================================

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"txt": FormatTranscript, "Text": FormatTranscript, "md": FormatMarkdown,
		"json": FormatJSON, "openai": FormatOpenAI, "yml": FormatYAML,
	}
	for name, want := range cases {
		got, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseFormat("html")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	f, err := FormatForPath("/tmp/chat.yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
}

func TestNewImporter_MarkdownIsExportOnly(t *testing.T) {
	_, err := NewImporter(FormatMarkdown)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Len(t, Formats(), 5)
}

func TestExporters_RejectNil(t *testing.T) {
	for _, f := range Formats() {
		exp, err := NewExporter(f, nil)
		require.NoError(t, err)
		_, err = exp.Export(nil)
		assert.ErrorIs(t, err, ErrNilConversation, string(f))
	}
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestRoundTrip_TextOnly(t *testing.T) {
	for _, f := range []Format{FormatTranscript, FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			src := sampleConversation()
			exp, err := NewExporter(f, nil)
			require.NoError(t, err)
			imp, err := NewImporter(f)
			require.NoError(t, err)

			data, err := exp.Export(src)
			require.NoError(t, err)
			got, err := imp.Import(data)
			require.NoError(t, err)

			assert.Equal(t, roles(src), roles(got))
			assert.Equal(t, texts(src), texts(got))
			assert.Equal(t, "Trip planning", got.Title)
			assert.NotEqual(t, src.ID, got.ID)
			assert.NotEqual(t, src.Messages[0].ID, got.Messages[0].ID)
			assert.True(t, got.IsOrdered())
			for _, m := range got.Messages {
				assert.Equal(t, got.ID, m.ConversationID)
			}
		})
	}
}

func TestRoundTrip_OpenAI(t *testing.T) {
	src := sampleConversation()
	exp := NewOpenAIExporter()
	data, err := exp.Export(src)
	require.NoError(t, err)

	got, err := exp.Import(data)
	require.NoError(t, err)

	// notices are not part of an OpenAI request
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, roles(got))
	assert.Equal(t, texts(src)[:2], texts(got))
	assert.Equal(t, "Be brief.", got.Params.SystemPrompt)
}

func TestRoundTrip_Images(t *testing.T) {
	img := model.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0x00}}

	for _, f := range []Format{FormatJSON, FormatOpenAI, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			src := model.NewConversation()
			src.Append(model.NewUserMessage("What is this?", []model.Image{img}, nil))
			src.Append(model.NewMessage(model.RoleAssistant, "A cat."))

			exp, err := NewExporter(f, nil)
			require.NoError(t, err)
			imp, err := NewImporter(f)
			require.NoError(t, err)

			data, err := exp.Export(src)
			require.NoError(t, err)
			got, err := imp.Import(data)
			require.NoError(t, err)

			require.Len(t, got.Messages, 2)
			assert.Equal(t, "What is this?", got.Messages[0].Text)
			require.Len(t, got.Messages[0].Images, 1)
			assert.Equal(t, img.Data, got.Messages[0].Images[0].Data)
			assert.Equal(t, "image/jpeg", got.Messages[0].Images[0].MIMEType)
		})
	}
}

func TestYAML_KeepsChannelsAndGroups(t *testing.T) {
	src := sampleConversation()
	exp := NewYAMLExporter()
	data, err := exp.Export(src)
	require.NoError(t, err)

	got, err := exp.Import(data)
	require.NoError(t, err)
	answer := got.Messages[1]
	assert.Equal(t, "g1", answer.GroupID)
	assert.Equal(t, "warm, cheap", answer.ReasoningText)
	assert.Equal(t, "Thought for 2.0 sec", answer.ReasoningElapsed)
	assert.Equal(t, "Be brief.", got.Params.SystemPrompt)
	assert.Equal(t, "gpt-4o", got.Model)
}

func TestExport_SkipsStreamingPlaceholder(t *testing.T) {
	conv := sampleConversation()
	conv.Append(model.NewAssistantPlaceholder("g2"))

	for _, f := range []Format{FormatTranscript, FormatJSON, FormatYAML} {
		exp, err := NewExporter(f, nil)
		require.NoError(t, err)
		imp, err := NewImporter(f)
		require.NoError(t, err)
		data, err := exp.Export(conv)
		require.NoError(t, err)
		got, err := imp.Import(data)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 3, string(f))
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func TestTranscript_Layout(t *testing.T) {
	data, err := NewTranscriptExporter(nil).Export(sampleConversation())
	require.NoError(t, err)

	want := "# Trip planning\n\n" +
		"You: Where should I go?\n" +
		"  \n" +
		"  Somewhere warm.\n" +
		"\n" +
		"Assistant: Try Lisbon.\n" +
		"\n" +
		"Info: Response stopped.\n"
	assert.Equal(t, want, string(data))
}

func TestTranscript_OmitsNotices(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeNotices = false
	data, err := NewTranscriptExporter(opts).Export(sampleConversation())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Info:")
}

func TestTranscript_ImportErrors(t *testing.T) {
	imp := NewTranscriptExporter(nil)

	_, err := imp.Import([]byte("Bob: hi\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = imp.Import([]byte("# Only a title\n"))
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestJSON_ImportBareArray(t *testing.T) {
	conv, err := NewJSONExporter(nil).Import([]byte(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, texts(conv))
	assert.Equal(t, "hi", conv.Title)

	_, err = NewJSONExporter(nil).Import([]byte(`[{"role":"robot","content":"x"}]`))
	assert.ErrorContains(t, err, "unknown role")
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdown_Content(t *testing.T) {
	exp := NewMarkdownExporter(nil)
	exp.now = func() time.Time { return time.Date(2025, 1, 2, 15, 4, 0, 0, time.UTC) }

	data, err := exp.Export(sampleConversation())
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, "---\ntitle: Trip planning\n"))
	assert.Contains(t, out, "# Trip planning")
	assert.Contains(t, out, "<summary>Thought for 2.0 sec</summary>")
	assert.Contains(t, out, "Try Lisbon.")
	assert.Contains(t, out, "<sub>Stats: Duration: 1.50s | Events: 4</sub>")
	assert.Contains(t, out, "- **System Prompt**: Be brief.")
	assert.Contains(t, out, "*Exported from threadline on January 2, 2025 at 3:04 PM*")
}

func TestMarkdown_NoMessages(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(model.NewConversation())
	assert.Error(t, err)
}

// =============================================================================
// FILES
// =============================================================================

func TestExportToFile_AndImportFile(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir

	path, err := ExportToFile(sampleConversation(), NewJSONExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "conversation_Trip_planning_"))
	assert.Equal(t, ".json", filepath.Ext(path))

	_, err = os.Stat(path)
	require.NoError(t, err)

	conv, err := ImportFile(path)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 3)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b_c", sanitizeFilename("a/b c"))
	assert.Equal(t, "conversation", sanitizeFilename(""))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("é", 80))), 50)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.50s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
}
