// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config selects a storage backend.
type Config struct {
	// Driver is one of "sqlite", "badger", "file" or "memory".
	Driver string `toml:"driver" json:"driver" validate:"required,oneof=sqlite badger file memory"`

	// Path is the database file (sqlite), directory (badger, file) or
	// ignored (memory).
	Path string `toml:"path" json:"path" validate:"required_unless=Driver memory"`
}

// Drivers lists the supported backend names.
var Drivers = []string{"sqlite", "badger", "file", "memory"}

// Open opens the configured backend.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return OpenSQLite(cfg.Path, logger)
	case "badger":
		return OpenBadger(cfg.Path, logger)
	case "file":
		return OpenFile(cfg.Path, logger)
	case "memory", "":
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
