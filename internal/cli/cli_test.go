// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/session"
	"github.com/jeranaias/threadline/internal/storage"
)

func init() {
	ForceColorsEnabled(false)
}

// =============================================================================
// HELPERS
// =============================================================================

// lockedBuffer is a bytes.Buffer safe for the logger's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// relayUpstream streams texts in the relay SSE format and counts requests.
func relayUpstream(t *testing.T, texts ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range texts {
			data, _ := json.Marshal(map[string]string{"text": text})
			fmt.Fprintf(w, "event: contentDelta\ndata: %s\n\n", data)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// isolate points the config directory and every override at a temp
// directory and the given upstream.
func isolate(t *testing.T, upstream string) string {
	t.Helper()
	dir := t.TempDir()
	for env, value := range map[string]string{
		"THREADLINE_HOME":           dir,
		"THREADLINE_PROVIDER":       "relay",
		"THREADLINE_BASE_URL":       upstream,
		"THREADLINE_API_KEY":        "",
		"THREADLINE_MODEL":          "test-model",
		"THREADLINE_LOCAL_ONLY":     "",
		"THREADLINE_STORAGE_DRIVER": "file",
		"THREADLINE_STORAGE_PATH":   filepath.Join(dir, "store"),
		"THREADLINE_FLUSH_INTERVAL": "1ms",
		"THREADLINE_LOG_LEVEL":      "error",
		"THREADLINE_LOG_FORMAT":     "",
		"THREADLINE_ADDR":           "",
		"THREADLINE_TOKEN":          "",
		"THREADLINE_LANG":           "en",
		"OPENAI_API_KEY":            "",
	} {
		t.Setenv(env, value)
	}
	return dir
}

type result struct {
	out, err string
}

// run executes one CLI invocation with its own App, like a process would.
func run(t *testing.T, stdin string, args ...string) (result, error) {
	t.Helper()
	var out, errOut lockedBuffer
	app := &App{Out: &out, Err: &errOut, In: strings.NewReader(stdin)}
	err := Run(context.Background(), app, args)
	return result{out: out.String(), err: errOut.String()}, err
}

func mustRun(t *testing.T, args ...string) result {
	t.Helper()
	res, err := run(t, "", args...)
	require.NoError(t, err, "stderr: %s", res.err)
	return res
}

func askJSON(t *testing.T, args ...string) turnResult {
	t.Helper()
	res := mustRun(t, append([]string{"--json", "ask"}, args...)...)
	var tr turnResult
	require.NoError(t, json.Unmarshal([]byte(res.out), &tr), res.out)
	return tr
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsAnswerAndPersists(t *testing.T) {
	upstream, calls := relayUpstream(t, "Hel", "lo")
	isolate(t, upstream.URL)

	res := mustRun(t, "ask", "Hi")
	assert.Equal(t, "Hello\n", res.out)
	assert.Contains(t, res.err, "committed")
	assert.Contains(t, res.err, "conversation ")
	assert.Equal(t, int32(1), calls.Load())

	res = mustRun(t, "--json", "history")
	var metas []model.ConversationMeta
	require.NoError(t, json.Unmarshal([]byte(res.out), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].MessageCount)
	assert.Equal(t, "Hello", metas[0].Preview)
}

func TestAsk_JSONContinuesConversation(t *testing.T) {
	upstream, _ := relayUpstream(t, "Paris")
	isolate(t, upstream.URL)

	first := askJSON(t, "Capital of France?")
	assert.Equal(t, "committed", first.State)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "Paris", first.Messages[0].Text)
	assert.Empty(t, first.Error)

	second := askJSON(t, "-c", first.ConversationID[:8], "Again?")
	assert.Equal(t, first.ConversationID, second.ConversationID)

	res := mustRun(t, "--json", "history", "show", first.ConversationID)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(res.out), &conv))
	assert.Len(t, conv.Messages, 4)
}

func TestAsk_ReadsStdin(t *testing.T) {
	upstream, _ := relayUpstream(t, "ok")
	isolate(t, upstream.URL)

	res, err := run(t, "from stdin\n", "--json", "ask")
	require.NoError(t, err, res.err)

	var tr turnResult
	require.NoError(t, json.Unmarshal([]byte(res.out), &tr))
	res = mustRun(t, "--json", "history", "show", tr.ConversationID)
	assert.Contains(t, res.out, "from stdin")
}

func TestAsk_EmptyInputCreatesNothing(t *testing.T) {
	upstream, calls := relayUpstream(t, "unused")
	isolate(t, upstream.URL)

	_, err := run(t, "   ", "ask")
	assert.ErrorIs(t, err, session.ErrEmptyInput)
	assert.Zero(t, calls.Load())

	res := mustRun(t, "--json", "history")
	assert.Equal(t, "[]\n", res.out)
}

func TestAsk_AttachesDocument(t *testing.T) {
	upstream, _ := relayUpstream(t, "Read it")
	dir := isolate(t, upstream.URL)

	doc := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("meeting at noon"), 0644))

	tr := askJSON(t, "--file", doc, "Summarize")
	res := mustRun(t, "--json", "history", "show", tr.ConversationID)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(res.out), &conv))
	require.NotEmpty(t, conv.Messages)
	require.Len(t, conv.Messages[0].Documents, 1)
	assert.Equal(t, "notes.txt", conv.Messages[0].Documents[0].Name)
}

func TestAsk_InvalidTemperature(t *testing.T) {
	upstream, calls := relayUpstream(t, "x")
	isolate(t, upstream.URL)

	_, err := run(t, "", "ask", "--temperature", "5", "Hi")
	assert.ErrorIs(t, err, model.ErrInvalidParams)
	assert.Zero(t, calls.Load())
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetry_ReplacesLastAnswer(t *testing.T) {
	upstream, calls := relayUpstream(t, "Answer")
	isolate(t, upstream.URL)

	first := askJSON(t, "Question")
	res := mustRun(t, "--json", "retry", first.ConversationID[:8])

	var tr turnResult
	require.NoError(t, json.Unmarshal([]byte(res.out), &tr))
	assert.True(t, tr.Retry)
	assert.Equal(t, "committed", tr.State)
	assert.NotEqual(t, first.Messages[0].ID, tr.Messages[0].ID)
	assert.Equal(t, int32(2), calls.Load())

	res = mustRun(t, "--json", "history", "show", first.ConversationID)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(res.out), &conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, tr.Messages[0].ID, conv.Messages[1].ID)
}

func TestRetry_ShowsDiff(t *testing.T) {
	upstream, _ := relayUpstream(t, "Same answer")
	isolate(t, upstream.URL)

	first := askJSON(t, "Question")
	res := mustRun(t, "retry", first.ConversationID, "--diff")
	assert.Contains(t, res.out, "Same answer")
	assert.Contains(t, res.out, "Changes: identical")
}

func TestRetry_UserMessageIsNotRetryable(t *testing.T) {
	upstream, _ := relayUpstream(t, "Answer")
	isolate(t, upstream.URL)

	first := askJSON(t, "Question")
	res := mustRun(t, "--json", "history", "show", first.ConversationID)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(res.out), &conv))

	_, err := run(t, "", "retry", first.ConversationID, conv.Messages[0].ID)
	assert.ErrorIs(t, err, session.ErrNotRetryable)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_TableSearchAndDelete(t *testing.T) {
	upstream, _ := relayUpstream(t, "Sure")
	isolate(t, upstream.URL)

	first := askJSON(t, "Plan a trip to Lisbon")
	askJSON(t, "Bake bread")

	res := mustRun(t, "history")
	assert.Contains(t, res.out, "TITLE")
	assert.Contains(t, res.out, first.ConversationID[:8])

	res = mustRun(t, "--json", "history", "search", "lisbon")
	var metas []model.ConversationMeta
	require.NoError(t, json.Unmarshal([]byte(res.out), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, first.ConversationID, metas[0].ID)

	mustRun(t, "history", "delete", first.ConversationID[:8])
	_, err := run(t, "", "history", "show", first.ConversationID)
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func TestHistory_ShortPrefixIsRejected(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	isolate(t, upstream.URL)

	tr := askJSON(t, "Hi")
	_, err := run(t, "", "history", "show", tr.ConversationID[:2])
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExportAndImport(t *testing.T) {
	upstream, _ := relayUpstream(t, "Paris")
	dir := isolate(t, upstream.URL)

	tr := askJSON(t, "Capital of France?")

	res := mustRun(t, "export", tr.ConversationID, "-f", "transcript", "--stdout")
	assert.Contains(t, res.out, "Capital of France?")
	assert.Contains(t, res.out, "Paris")

	res = mustRun(t, "--json", "export", tr.ConversationID, "-f", "json", "--dir", dir)
	var written map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.out), &written))
	assert.FileExists(t, written["path"])
	assert.Equal(t, "json", written["format"])

	res = mustRun(t, "--json", "import", written["path"])
	var meta model.ConversationMeta
	require.NoError(t, json.Unmarshal([]byte(res.out), &meta))
	assert.NotEqual(t, tr.ConversationID, meta.ID)
	assert.Equal(t, 2, meta.MessageCount)

	res = mustRun(t, "--json", "history")
	var metas []model.ConversationMeta
	require.NoError(t, json.Unmarshal([]byte(res.out), &metas))
	assert.Len(t, metas, 2)
}

func TestImport_StdinNeedsFormat(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	isolate(t, upstream.URL)

	_, err := run(t, "You: hi\n", "import", "-")
	assert.Error(t, err)

	res, err := run(t, "You: hi\n\nAssistant: hello\n", "--json", "import", "-", "-f", "transcript")
	require.NoError(t, err, res.err)
	assert.Contains(t, res.out, `"message_count": 2`)
}

func TestExport_UnknownFormat(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	isolate(t, upstream.URL)

	tr := askJSON(t, "Hi")
	_, err := run(t, "", "export", tr.ConversationID, "-f", "pdf")
	assert.Error(t, err)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_SetThenGet(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	dir := isolate(t, upstream.URL)
	t.Setenv("THREADLINE_MODEL", "")

	res := mustRun(t, "config", "set", "provider.model", "gpt-4o-mini")
	assert.Contains(t, res.out, filepath.Join(dir, "config.toml"))

	res = mustRun(t, "config", "get", "provider.model")
	assert.Equal(t, "gpt-4o-mini\n", res.out)

	_, err := run(t, "", "config", "set", "stream.max_chunk_size", "10")
	assert.Error(t, err, "values below the minimum are rejected")

	_, err = run(t, "", "config", "get", "server.token")
	assert.Error(t, err)
}

func TestConfig_ShowRedactsSecrets(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	isolate(t, upstream.URL)
	t.Setenv("THREADLINE_API_KEY", "sk-secret")

	res := mustRun(t, "config", "show")
	assert.NotContains(t, res.out, "sk-secret")
	assert.Contains(t, res.out, "[REDACTED]")

	res = mustRun(t, "config", "keys")
	assert.Contains(t, res.out, "stream.flush_interval")
}

func TestFlagOverrides(t *testing.T) {
	upstream, _ := relayUpstream(t, "x")
	isolate(t, upstream.URL)

	res := mustRun(t, "--model", "other", "config", "get", "provider.model")
	assert.Equal(t, "other\n", res.out)

	_, err := run(t, "", "--storage", "floppy", "history")
	assert.Error(t, err)
}

func TestVersion_SkipsConfig(t *testing.T) {
	res := mustRun(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "version")
	assert.Contains(t, res.out, "threadline "+Version)
}

// =============================================================================
// CHAT
// =============================================================================

// scriptedInput feeds the chat loop fixed lines, then EOF.
type scriptedInput struct {
	lines  []string
	closed bool
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() { s.closed = true }

func TestChat_SendsRetriesAndQuits(t *testing.T) {
	upstream, calls := relayUpstream(t, "Hello there")
	isolate(t, upstream.URL)

	var out, errOut lockedBuffer
	app := &App{Out: &out, Err: &errOut, In: strings.NewReader("")}
	require.NoError(t, app.load())
	t.Cleanup(func() { _ = app.Close() })

	ctx := context.Background()
	s, err := app.openSession(ctx, "")
	require.NoError(t, err)

	in := &scriptedInput{lines: []string{"Hi", "", "/retry", "/history", "/bogus", "/quit", "never read"}}
	require.NoError(t, app.chat(ctx, s, in))

	assert.True(t, in.closed)
	assert.Equal(t, []string{"never read"}, in.lines)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, out.String(), "Hello there")
	assert.Contains(t, errOut.String(), "unknown command /bogus")

	conv := s.Snapshot()
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello there", conv.Messages[1].Text)
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func TestStreamPrinter_PrintsOnlyNewText(t *testing.T) {
	before := model.NewConversation()
	before.Append(model.NewMessage(model.RoleAssistant, "old answer"))

	var buf bytes.Buffer
	p := newStreamPrinter(&buf, before, true)

	conv := before.Clone()
	conv.Append(model.NewUserMessage("question", nil, nil))
	answer := model.NewAssistantPlaceholder("")
	conv.Append(answer)
	p.render(conv, false)
	assert.Empty(t, buf.String(), "empty placeholder prints nothing")

	answer.Text = "Hel"
	p.render(conv, false)
	answer.Text = "Hello"
	p.render(conv, false)
	assert.Equal(t, "Hello", buf.String())

	answer.Text = "The request failed."
	p.render(conv, true)
	p.done()
	assert.Equal(t, "Hello\nThe request failed.\n", buf.String())
	assert.NotContains(t, buf.String(), "old answer")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "one two\nthree", WrapText("one two three", 8))
	assert.Equal(t, "keep\nlines", WrapText("keep\nlines", 20))
	assert.Equal(t, "日本語\nテキスト", WrapText("日本語 テキスト", 8))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a long...", Truncate("a long  title\nhere", 9))
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "just now", formatAge(0))
	assert.Equal(t, "5m ago", formatAge(5*60e9))
	assert.Equal(t, "2d ago", formatAge(49*3600e9))
}
