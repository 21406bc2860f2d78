// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/stream"
	"github.com/jeranaias/threadline/internal/transport"
)

const namespace = "threadline"

// =============================================================================
// METRICS
// =============================================================================

// Metrics records turn lifecycle metrics on its own registry. It satisfies
// session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	turnsStarted  *prometheus.CounterVec
	turnsFinished *prometheus.CounterVec
	syncFailures  *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	liveTurns     *prometheus.GaugeVec

	firstEvent *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
	reasoning  *prometheus.HistogramVec
	events     *prometheus.HistogramVec
}

// NewMetrics creates the metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turnsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_started_total",
			Help:      "Turns dispatched to a provider, by kind (send or retry).",
		}, []string{"provider", "kind"}),
		turnsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_finished_total",
			Help:      "Turns that reached a terminal state, by state and cause.",
		}, []string{"provider", "state", "cause"}),
		syncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Turns whose final save failed.",
		}, []string{"provider"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Observable updates pushed to subscribers while streaming.",
		}, []string{"provider"}),
		liveTurns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_turns",
			Help:      "Turns currently streaming.",
		}, []string{"provider"}),
		firstEvent: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_event_seconds",
			Help:      "Time from dispatch to the first applied stream event.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from dispatch to the end of the stream.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		reasoning: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_seconds",
			Help:      "Accumulated reasoning time per turn, for turns that reasoned.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider"}),
		events: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "events_per_turn",
			Help:      "Stream events applied per turn.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"provider"}),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackSessions exports the open session count, read at scrape time.
// Call it once.
func (m *Metrics) TrackSessions(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Open conversation sessions.",
	}, func() float64 { return float64(count()) })
}

// =============================================================================
// SESSION OBSERVER
// =============================================================================

// TurnStarted counts a dispatched turn.
func (m *Metrics) TurnStarted(provider string, retry bool) {
	kind := "send"
	if retry {
		kind = "retry"
	}
	m.turnsStarted.WithLabelValues(provider, kind).Inc()
	m.liveTurns.WithLabelValues(provider).Inc()
}

// TurnFinished records the outcome and stream statistics of a turn.
func (m *Metrics) TurnFinished(provider string, out assembler.Outcome) {
	m.liveTurns.WithLabelValues(provider).Dec()
	m.turnsFinished.WithLabelValues(provider, out.State.String(), Cause(out)).Inc()
	if out.SyncFailed() {
		m.syncFailures.WithLabelValues(provider).Inc()
	}

	stats := out.Stats
	if stats == nil {
		return
	}
	if stats.TTFT > 0 {
		m.firstEvent.WithLabelValues(provider).Observe(stats.TTFT.Seconds())
	}
	if stats.TotalDuration > 0 {
		m.duration.WithLabelValues(provider).Observe(stats.TotalDuration.Seconds())
	}
	if stats.Reasoning > 0 {
		m.reasoning.WithLabelValues(provider).Observe(stats.Reasoning.Seconds())
	}
	m.events.WithLabelValues(provider).Observe(float64(stats.Events))
}

// Flushed counts one observable update.
func (m *Metrics) Flushed(provider string) {
	m.flushes.WithLabelValues(provider).Inc()
}

// Cause reduces an outcome to a low-cardinality label.
func Cause(out assembler.Outcome) string {
	err := out.Cause
	switch {
	case err == nil && out.SyncErr != nil:
		return "sync"
	case err == nil:
		return "none"
	case errors.Is(err, assembler.ErrEmptyResult):
		return "empty"
	}

	var terminal stream.TerminalError
	if errors.As(err, &terminal) {
		switch terminal.Reason {
		case stream.ReasonLength, stream.ReasonSensitive:
			return terminal.Reason
		default:
			return "provider"
		}
	}

	var terr *transport.TransportError
	if errors.As(err, &terr) {
		return string(terr.Kind)
	}
	if out.SyncErr != nil && errors.Is(err, out.SyncErr) {
		return "sync"
	}
	return "other"
}
