// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"io"
)

// =============================================================================
// NDJSON READER
// =============================================================================

// ndjsonReader yields one event per non-empty line.
type ndjsonReader struct {
	reader *bufio.Reader
	limit  int
}

func newNDJSONReader(r io.Reader, limit int) *ndjsonReader {
	return &ndjsonReader{reader: bufio.NewReader(r), limit: limit}
}

func (n *ndjsonReader) next() (RawEvent, error) {
	for {
		line, err := readLine(n.reader, n.limit)
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			// A final line without a trailing newline is still delivered
			if err != nil && err != io.EOF {
				return RawEvent{}, err
			}
			return RawEvent{Data: line}, nil
		}
		if err != nil {
			return RawEvent{}, err
		}
	}
}
