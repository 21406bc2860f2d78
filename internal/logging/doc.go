// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process-wide slog logger.
//
// Components never create their own handlers. They take a *slog.Logger
// and derive a child with logger.With("component", ...).
//
// # Key Types
//
//   - Options: level, text or json format, optional file
//   - Logger: the configured *slog.Logger plus a runtime-adjustable level
//
// # Usage
//
//	logger, err := logging.New(logging.Options{Level: "debug", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Install()
package logging
