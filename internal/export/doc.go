// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export converts conversations to and from files.
//
// # Key Types
//
//   - Exporter: renders a conversation in one format
//   - Importer: reads a conversation back; imports get fresh IDs
//   - Format: named format, resolved with ParseFormat or FormatForPath
//   - Options: metadata, timestamps and notice filtering
//
// # Supported Formats
//
//   - transcript: "Speaker: text" plain text, importable
//   - json: role/content pairs with data URI images, importable
//   - openai: OpenAI chat message array, importable
//   - yaml: full-fidelity dump, importable
//   - markdown: human-readable, export only
//
// # Usage
//
//	exp, err := export.NewExporter(export.FormatMarkdown, export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(conv, exp, nil)
//
// Import by file extension:
//
//	conv, err := export.ImportFile("chat.json")
package export
