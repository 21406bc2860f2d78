// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"io"
)

// doneSentinel ends OpenAI-style SSE streams.
var doneSentinel = []byte("[DONE]")

// =============================================================================
// SSE READER
// =============================================================================

// sseReader parses Server-Sent Events. Comment lines and id/retry fields
// are ignored; multiple data lines are joined with a newline.
type sseReader struct {
	reader *bufio.Reader
	limit  int
}

func newSSEReader(r io.Reader, limit int) *sseReader {
	return &sseReader{reader: bufio.NewReader(r), limit: limit}
}

// next returns the next complete event. io.EOF ends the stream, including
// when the [DONE] sentinel is received.
func (s *sseReader) next() (RawEvent, error) {
	var eventType string
	var data [][]byte
	size := 0

	flush := func() (RawEvent, error) {
		joined := bytes.Join(data, []byte("\n"))
		if bytes.Equal(joined, doneSentinel) {
			return RawEvent{}, io.EOF
		}
		return RawEvent{Event: eventType, Data: joined}, nil
	}

	for {
		line, err := readLine(s.reader, s.limit)
		if err != nil && err != io.EOF {
			return RawEvent{}, err
		}
		eof := err == io.EOF
		line = bytes.TrimRight(line, "\r\n")

		// Empty line terminates an event
		if len(line) == 0 {
			if len(data) > 0 {
				return flush()
			}
			if eof {
				return RawEvent{}, io.EOF
			}
			eventType = ""
			continue
		}

		switch {
		case line[0] == ':':
			// comment
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			value := line[len("data:"):]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			size += len(value)
			if size > s.limit {
				return RawEvent{}, ErrChunkTooLarge
			}
			data = append(data, append([]byte(nil), value...))
		}

		if eof {
			if len(data) > 0 {
				return flush()
			}
			return RawEvent{}, io.EOF
		}
	}
}

// readLine reads one newline-terminated line, failing once it grows past
// limit bytes.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > limit {
			return nil, ErrChunkTooLarge
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}
