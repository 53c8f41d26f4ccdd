// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// PROMETHEUS COLLECTORS
// =============================================================================

const namespace = "hexai"

// PromRecorder exports inference telemetry as Prometheus metrics.
type PromRecorder struct {
	ttft             prometheus.Histogram
	duration         prometheus.Histogram
	tokensPerSecond  prometheus.Histogram
	completionTokens prometheus.Counter
	streamErrors     *prometheus.CounterVec
	healthLatency    prometheus.Histogram
}

// NewPromRecorder registers the hexai collectors with reg.
// Passing prometheus.DefaultRegisterer is fine for the binary; tests should
// use a fresh registry.
func NewPromRecorder(reg prometheus.Registerer) *PromRecorder {
	factory := promauto.With(reg)
	return &PromRecorder{
		ttft: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_ttft_seconds",
			Help:      "Time from request start to the first content or reasoning token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Total time of a chat completion",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		tokensPerSecond: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_tokens_per_second",
			Help:      "Generation speed as reported by the server or measured locally",
			Buckets:   []float64{1, 5, 10, 20, 40, 60, 100, 200},
		}),
		completionTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Completion tokens generated across all responses",
		}),
		// Labels: type (reset, aborted, closed, timeout, connection, network, http_status, ...)
		streamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Chat completion failures by category",
		}, []string{"type"}),
		healthLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_latency_seconds",
			Help:      "Round trip of /health probes",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
	}
}

// ObserveCompletion records one finished response. Zero timings are skipped
// so a response without a first token does not drag the TTFT histogram down.
func (p *PromRecorder) ObserveCompletion(_ string, stats model.InferenceStats) {
	if stats.TTFT > 0 {
		p.ttft.Observe(stats.TTFT.Seconds())
	}
	if stats.TotalTime > 0 {
		p.duration.Observe(stats.TotalTime.Seconds())
	}
	if stats.TokensPerSecond > 0 {
		p.tokensPerSecond.Observe(stats.TokensPerSecond)
	}
	if stats.CompletionTokens > 0 {
		p.completionTokens.Add(float64(stats.CompletionTokens))
	}
}

// ObserveError counts a failure.
func (p *PromRecorder) ObserveError(errType string) {
	p.streamErrors.WithLabelValues(errType).Inc()
}

// ObserveHealth records a probe round trip.
func (p *PromRecorder) ObserveHealth(latency time.Duration) {
	p.healthLatency.Observe(latency.Seconds())
}
