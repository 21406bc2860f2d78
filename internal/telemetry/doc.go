// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exports Prometheus metrics for streamed turns.
//
// Metrics live on a private registry so tests and embedders never collide
// with the global one.
//
// # Key Types
//
//   - Metrics: turn counters and histograms; implements session.Observer
//
// # Usage
//
//	metrics := telemetry.NewMetrics()
//	cfg.Observer = metrics
//	router.GET("/metrics", gin.WrapH(metrics.Handler()))
package telemetry
