// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps model traffic on the local machine.
//
// With provider.local_only set, the provider base URL must name a
// loopback host and every streaming request passes through Guard, which
// refuses other hosts, redirects included. URL schemes other than http and
// https are refused regardless of the setting.
//
// # Key Types
//
//   - Guard: http.RoundTripper that only reaches loopback hosts
//
// # Usage
//
//	if err := offline.ValidateURL(cfg.BaseURL, cfg.LocalOnly); err != nil {
//		return err
//	}
//	client := &http.Client{Transport: offline.Guard(nil)}
package offline
