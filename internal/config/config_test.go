// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("THREADLINE_HOME", dir)
	for _, env := range []string{
		"THREADLINE_PROVIDER", "THREADLINE_BASE_URL", "THREADLINE_API_KEY", "THREADLINE_MODEL", "THREADLINE_LOCAL_ONLY",
		"THREADLINE_STORAGE_DRIVER", "THREADLINE_STORAGE_PATH", "THREADLINE_FLUSH_INTERVAL",
		"THREADLINE_LOG_LEVEL", "THREADLINE_LOG_FORMAT", "THREADLINE_ADDR", "THREADLINE_TOKEN", "THREADLINE_LANG",
		"OPENAI_API_KEY",
	} {
		t.Setenv(env, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefault_IsValid(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Millisecond, cfg.Stream.FlushInterval.Std())
	assert.Equal(t, filepath.Join(dir, "threadline.db"), cfg.Storage.Path)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoad_TOML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), `
[provider]
name = "openai"
base_url = "https://api.openai.com/v1"
model = "gpt-4o-mini"

[generation]
temperature = 0.2
max_history = 8

[stream]
flush_interval = "100ms"

[storage]
driver = "memory"

[logging]
level = "debug"
format = "json"
`)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.InDelta(t, 0.2, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 8, cfg.Generation.MaxHistory)
	assert.Equal(t, 1.0, cfg.Generation.TopP, "untouched keys keep defaults")
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.FlushInterval.Std())
	assert.Equal(t, 15*time.Minute, cfg.Stream.IdleTimeout.Std())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"provider":{"name":"relay","base_url":"http://gw.local","model":"m"},"stream":{"flush_interval":"50ms"}}`)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "relay", cfg.Provider.Name)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.FlushInterval.Std())
}

func TestLoadTOML_RejectsUnknownKeys(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[stream]\nflush_intervall = \"1s\"\n")
	_, err := LoadFromPath(path)
	assert.ErrorContains(t, err, "stream.flush_intervall")
}

func TestValidate_ReportsTOMLKeys(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Provider.Name = "bard"
	cfg.Generation.Temperature = 3
	cfg.Logging.Level = "loud"
	cfg.Storage.Path = ""

	err := cfg.Validate()
	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)

	fields := make(map[string]string)
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "must be one of: openai ollama relay", fields["provider.name"])
	assert.Equal(t, "must be <= 2", fields["generation.temperature"])
	assert.Contains(t, fields, "logging.level")
	assert.Equal(t, "is required", fields["storage.path"])
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Storage.Driver = "memory"
	cfg.Storage.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("THREADLINE_MODEL", "qwen3")
	t.Setenv("THREADLINE_FLUSH_INTERVAL", "75ms")
	t.Setenv("THREADLINE_LANG", "de")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, "qwen3", cfg.Provider.Model)
	assert.Equal(t, 75*time.Millisecond, cfg.Stream.FlushInterval.Std())
	assert.Equal(t, "de", cfg.Locale.Language)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)

	t.Setenv("THREADLINE_FLUSH_INTERVAL", "soon")
	assert.ErrorContains(t, cfg.ApplyEnvOverrides(), "THREADLINE_FLUSH_INTERVAL")
}

func TestGetSet(t *testing.T) {
	isolate(t)
	cfg := Default()

	require.NoError(t, cfg.Set("generation.max_tokens", "512"))
	require.NoError(t, cfg.Set("generation.features.search", "true"))
	require.NoError(t, cfg.Set("server.allowed_origins", "http://a, http://b"))
	require.NoError(t, cfg.Set("stream.flush_interval", "1s"))

	v, err := cfg.Get("generation.max_tokens")
	require.NoError(t, err)
	assert.Equal(t, 512, v)
	assert.True(t, cfg.Generation.Features.Search)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)

	v, err = cfg.Get("stream.flush_interval")
	require.NoError(t, err)
	assert.Equal(t, "1s", v)

	assert.ErrorContains(t, cfg.Set("stream.nope", "1"), "unknown key: stream.nope")
	assert.ErrorContains(t, cfg.Set("provider.name.x", "1"), "not a section")
	assert.Error(t, cfg.Set("generation.max_tokens", "many"))
	assert.Error(t, cfg.Set("server.metrics", "perhaps"))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "provider.api_key")
	assert.Contains(t, keys, "stream.flush_interval")
	assert.Contains(t, keys, "provider.local_only")
	assert.Contains(t, keys, "generation.features.reasoning")
	assert.NotContains(t, keys, "generation.canvas_id")
	assert.NotContains(t, keys, "provider.headers")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.Provider.APIKey = "sk-secret"
	cfg.Stream.FlushInterval = Duration(120 * time.Millisecond)
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", loaded.Provider.APIKey)
	assert.Equal(t, 120*time.Millisecond, loaded.Stream.FlushInterval.Std())
}

func TestString_RedactsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "sk-secret"
	cfg.Server.Token = "bearer-secret"
	out := cfg.String()
	assert.NotContains(t, out, "sk-secret")
	assert.NotContains(t, out, "bearer-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "sk-secret", cfg.Provider.APIKey)
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	cfg.Provider.Headers = map[string]string{"X-A": "1"}
	cfg.Server.AllowedOrigins = []string{"http://a"}

	clone := cfg.Clone()
	clone.Provider.Headers["X-A"] = "2"
	clone.Server.AllowedOrigins[0] = "http://b"

	assert.Equal(t, "1", cfg.Provider.Headers["X-A"])
	assert.Equal(t, "http://a", cfg.Server.AllowedOrigins[0])
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[stream]\nflush_interval = \"100ms\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(c *Config) { reloaded <- c })
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "[stream]\nflush_interval = \"250ms\"\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 250*time.Millisecond, cfg.Stream.FlushInterval.Std())
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	assert.NoError(t, <-done)
}
