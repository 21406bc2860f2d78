// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads threadline configuration.
//
// TOML is the primary format with JSON accepted as a fallback. Defaults
// fill anything the file leaves out, THREADLINE_* environment variables
// override the file, and the result is validated with struct tags.
//
// # Key Types
//
//   - Config: provider, generation, stream, storage, logging, server and locale sections
//   - Duration: a time.Duration written as "300ms"
//   - ValidateErrors: every failed field, keyed by its TOML path
//
// # Configuration Precedence
//
//   - Environment variables (THREADLINE_*)
//   - ~/.threadline/config.toml
//   - ~/.threadline/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	interval := cfg.Stream.FlushInterval.Std()
//
// Reload on change:
//
//	go config.Watch(ctx, path, 0, logger, func(c *config.Config) { ... })
package config
