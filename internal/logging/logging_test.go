// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "": slog.LevelInfo, "INFO": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With("component", "session").Info("turn finished", "state", "committed")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "turn finished", rec["msg"])
	assert.Equal(t, "session", rec["component"])
	assert.Equal(t, "threadline", rec["service"])
	assert.Equal(t, "committed", rec["state"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, slog.LevelDebug, l.Level())
	l.Debug("kept")
	assert.Contains(t, buf.String(), "kept")

	assert.Error(t, l.SetLevel("nope"))
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "threadline.log")
	l, err := New(Options{File: path})
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNew_BadFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}
