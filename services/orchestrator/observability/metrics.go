// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the service.
//
// # Description
//
// Metrics cover:
//   - HTTP requests (by route and status)
//   - Model calls (by chat mode and outcome, with latency)
//   - Tool invocations (by tool and outcome)
//   - Retrieved passages per RAG query
//   - The active conversation memory backend
//   - Active SSE streams and client disconnects
//
// # Integration
//
// Metrics are exposed on GET /metrics via promhttp.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *Metrics, so components can be
// built without metrics in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "askai"

// Metrics holds every collector the service records into.
type Metrics struct {
	// HTTPRequestsTotal counts finished requests.
	// Labels: route (gin full path), status (HTTP code)
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDurationSeconds measures handler latency.
	// Labels: route
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// ModelCallsTotal counts chat-model calls.
	// Labels: mode (direct, structured, guarded, rag, tools, search, stream), outcome (success, error)
	ModelCallsTotal *prometheus.CounterVec

	// ModelCallDurationSeconds measures one model call.
	// Labels: mode
	ModelCallDurationSeconds *prometheus.HistogramVec

	// ToolInvocationsTotal counts tool calls requested by the model.
	// Labels: tool, outcome (success or the ToolError kind)
	ToolInvocationsTotal *prometheus.CounterVec

	// RetrievalPassages observes how many passages a RAG query kept.
	RetrievalPassages prometheus.Histogram

	// MemoryBackend is 1 for the active conversation memory backend.
	// Labels: kind (durable, in_memory)
	MemoryBackend *prometheus.GaugeVec

	// ActiveStreams tracks open SSE responses.
	ActiveStreams prometheus.Gauge

	// ClientDisconnectsTotal counts streams cancelled by the client.
	ClientDisconnectsTotal prometheus.Counter
}

// NewMetrics creates and registers every collector on reg.
//
// # Description
//
// Tests pass a fresh prometheus.NewRegistry() so they can run in
// parallel without duplicate registration.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),

		HTTPRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),

		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "model_calls_total",
				Help:      "Total chat model calls by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		ModelCallDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "model_call_duration_seconds",
				Help:      "Chat model call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"mode"},
		),

		ToolInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_invocations_total",
				Help:      "Total tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		RetrievalPassages: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "retrieval_passages",
				Help:      "Passages kept per retrieval",
				Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
			},
		),

		MemoryBackend: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "memory_backend",
				Help:      "Active conversation memory backend (1 = active)",
			},
			[]string{"kind"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Number of currently open streaming responses",
			},
		),

		ClientDisconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),
	}
}

// =============================================================================
// Label values
// =============================================================================

// Mode labels a chat orchestration mode.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeStructured Mode = "structured"
	ModeGuarded    Mode = "guarded"
	ModeRAG        Mode = "rag"
	ModeTools      Mode = "tools"
	ModeSearch     Mode = "search"
	ModeStream     Mode = "stream"
	ModeMedia      Mode = "media"
)

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// =============================================================================
// Recording
// =============================================================================

func (m *Metrics) RecordHTTPRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordModelCall(mode Mode, elapsed time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(string(mode), outcome(success)).Inc()
	m.ModelCallDurationSeconds.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

// RecordToolInvocation records result "success" or the failure kind.
func (m *Metrics) RecordToolInvocation(tool, result string) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) RecordRetrieval(passages int) {
	if m == nil {
		return
	}
	m.RetrievalPassages.Observe(float64(passages))
}

// SetMemoryBackend marks kind as the only active backend.
func (m *Metrics) SetMemoryBackend(kind string) {
	if m == nil {
		return
	}
	m.MemoryBackend.Reset()
	m.MemoryBackend.WithLabelValues(kind).Set(1)
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
