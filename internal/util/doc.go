// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides crash-safe file writing.
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	err = util.AtomicWrite(path, 0644, func(w io.Writer) error {
//	    return exporter.Export(w, conv)
//	})
package util
