// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the relay HTTP
// surface.
//
// # Description
//
// Metrics cover query throughput, latency, streaming activity, and
// external specialist spend. Exposed on /metrics for Prometheus
// scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	relaySubsystem   = "relay"
)

// QueryMetrics holds the Prometheus metrics for query processing.
type QueryMetrics struct {
	// RequestsTotal counts queries by endpoint and status.
	// Labels: endpoint (query, stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// QueryDurationSeconds measures end-to-end query latency.
	// Labels: endpoint (query, stream)
	QueryDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open SSE streams.
	ActiveStreams prometheus.Gauge

	// SpendUSDTotal accumulates tracked external specialist spend.
	SpendUSDTotal prometheus.Counter

	// EscalationsTotal counts specialist escalations by result.
	// Labels: result (verified, blocked, failed)
	EscalationsTotal *prometheus.CounterVec
}

// NewQueryMetrics registers the relay metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry to avoid duplicate registration.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	factory := promauto.With(reg)
	return &QueryMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: relaySubsystem,
			Name:      "requests_total",
			Help:      "Queries processed by endpoint and status.",
		}, []string{"endpoint", "status"}),

		QueryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: relaySubsystem,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: relaySubsystem,
			Name:      "active_streams",
			Help:      "Currently open SSE streams.",
		}),

		SpendUSDTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: relaySubsystem,
			Name:      "spend_usd_total",
			Help:      "Tracked external specialist spend in USD.",
		}),

		EscalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: relaySubsystem,
			Name:      "escalations_total",
			Help:      "Specialist escalations by result.",
		}, []string{"result"}),
	}
}
