// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

var (
	// ErrStreamClosed is returned by Next after the stream was closed.
	ErrStreamClosed = errors.New("stream closed")

	// ErrChunkTooLarge is returned when a single frame exceeds the limit.
	ErrChunkTooLarge = errors.New("stream chunk exceeds maximum size")
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindDecode     ErrorKind = "decode"
)

// TransportError describes a failure to open or read a response stream.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int    // set for KindHTTPStatus
	Body       string // bounded excerpt of an error response body
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("transport: http status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("transport: http status %d", e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("transport: %s", e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}
