// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"errors"

	"github.com/jeranaias/threadline/internal/notice"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

// Classify turns a turn-ending error into the text shown on the error
// message. Provider reasons "length" and "sensitive" map to notices, other
// reasons pass through, transport failures get a localized description.
func Classify(err error, n *notice.Catalog) string {
	if n == nil {
		n = notice.New("")
	}

	var terminal stream.TerminalError
	if errors.As(err, &terminal) {
		switch terminal.Reason {
		case stream.ReasonLength:
			return n.LengthLimit()
		case stream.ReasonSensitive:
			return n.ContentFilter()
		case "":
			return terminal.Error()
		default:
			return terminal.Reason
		}
	}

	var terr *transport.TransportError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transport.KindHTTPStatus:
			return n.HTTPStatus(terr.StatusCode, terr.Body)
		case transport.KindDecode:
			return n.Decode()
		default:
			if terr.Err != nil {
				return n.Network(terr.Err)
			}
			return n.Network(terr)
		}
	}

	if errors.Is(err, ErrEmptyResult) {
		return n.EmptyResult()
	}
	return err.Error()
}
