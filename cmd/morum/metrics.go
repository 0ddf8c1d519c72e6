// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bureau-foundation/morum/lib/forum"
	"github.com/bureau-foundation/morum/lib/roomcache"
)

const metricsNamespace = "morum"

// metrics holds the server's Prometheus collectors. Each server
// registers into its own registry so tests can build several.
type metrics struct {
	registry *prometheus.Registry

	// requests counts API requests by route and response status.
	requests *prometheus.CounterVec

	// requestDuration observes handler latency by route.
	requestDuration *prometheus.HistogramVec

	// rateLimited counts write requests rejected by the limiter.
	rateLimited *prometheus.CounterVec

	// mutations counts post and comment writes by operation and
	// outcome (ok, rejected, partial, failed).
	mutations *prometheus.CounterVec

	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Forum API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Forum API handler latency in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Write requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "forum",
				Name:      "mutations_total",
				Help:      "Post and comment writes by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		syncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sync",
				Name:      "requests_total",
				Help:      "Homeserver /sync requests by outcome",
			},
			[]string{"outcome"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Homeserver /sync request duration in seconds, long-poll included",
				Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 45, 60},
			},
		),
	}
}

// watchCache exports the room cache's snapshot version and room count.
func (m *metrics) watchCache(cache *roomcache.Cache) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "snapshot_version",
			Help:      "Version of the latest published room cache snapshot",
		},
		func() float64 { return float64(cache.Snapshot().Version()) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "joined_rooms",
			Help:      "Rooms in the latest room cache snapshot",
		},
		func() float64 { return float64(cache.Snapshot().Len()) },
	)
}

// observeSync is the room cache's OnSync hook.
func (m *metrics) observeSync(err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.syncs.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

// observeMutation records the outcome of a post or comment write.
func (m *metrics) observeMutation(operation string, err error) {
	m.mutations.WithLabelValues(operation, mutationOutcome(err)).Inc()
}

func mutationOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var stepErr *forum.StepError
	if errors.As(err, &stepErr) && len(stepErr.Completed) > 0 {
		return "partial"
	}
	if kind := forum.KindOf(err); kind != forum.KindInternal {
		return "rejected"
	}
	return "failed"
}
