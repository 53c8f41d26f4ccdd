// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjct-dev/HexAI/internal/model"
)

func sampleStats() model.InferenceStats {
	return model.InferenceStats{
		PromptTokens:     12,
		CompletionTokens: 40,
		TotalTokens:      52,
		TokensPerSecond:  20,
		TTFT:             150 * time.Millisecond,
		TotalTime:        2 * time.Second,
	}
}

// =============================================================================
// PROMETHEUS
// =============================================================================

func TestPromRecorder_ObserveCompletion(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPromRecorder(reg)

	p.ObserveCompletion("m", sampleStats())
	p.ObserveCompletion("m", sampleStats())

	assert.Equal(t, 80.0, testutil.ToFloat64(p.completionTokens))
	assert.Equal(t, 1, testutil.CollectAndCount(p.ttft))

	count, err := testutil.GatherAndCount(reg, "hexai_stream_ttft_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPromRecorder_ObserveError(t *testing.T) {
	p := NewPromRecorder(prometheus.NewRegistry())
	p.ObserveError("timeout")
	p.ObserveError("timeout")
	p.ObserveError("reset")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.streamErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.streamErrors.WithLabelValues("reset")))
}

func TestPromRecorder_MetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPromRecorder(reg)
	p.ObserveCompletion("m", sampleStats())
	p.ObserveError("closed")
	p.ObserveHealth(10 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"hexai_stream_ttft_seconds",
		"hexai_stream_duration_seconds",
		"hexai_stream_tokens_per_second",
		"hexai_completion_tokens_total",
		"hexai_stream_errors_total",
		"hexai_health_latency_seconds",
	}, names)
}

func TestServe_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPromRecorder(reg).ObserveError("timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0", reg)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `hexai_stream_errors_total{type="timeout"} 1`))
}

// =============================================================================
// SESSION TOTALS
// =============================================================================

func TestSessionTotals(t *testing.T) {
	s := NewSessionTotals()
	s.ObserveCompletion("qwen", sampleStats())

	slow := sampleStats()
	slow.TokensPerSecond = 10
	s.ObserveCompletion("llama", slow)

	noRate := sampleStats()
	noRate.TokensPerSecond = 0
	s.ObserveCompletion("qwen", noRate)

	s.ObserveError("timeout")
	s.ObserveHealth(7 * time.Millisecond)

	got := s.Snapshot()
	assert.Equal(t, 3, got.Responses)
	assert.Equal(t, 120, got.CompletionTokens)
	assert.Equal(t, 36, got.PromptTokens)
	assert.Equal(t, 1, got.Errors)
	assert.InDelta(t, 15.0, got.AvgTokensPerSecond, 1e-9)
	assert.Equal(t, 7*time.Millisecond, got.LastHealthLatency)
	require.Len(t, got.Models, 2)
	assert.Equal(t, ModelTotals{Model: "llama", Responses: 1, CompletionTokens: 40}, got.Models[0])
	assert.Equal(t, ModelTotals{Model: "qwen", Responses: 2, CompletionTokens: 80}, got.Models[1])
}

func TestSessionTotals_ConcurrentAccess(t *testing.T) {
	s := NewSessionTotals()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ObserveCompletion("m", sampleStats())
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Snapshot().Responses)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewSessionTotals(), NewSessionTotals()
	rec := Multi(a, nil, b, Nop{})
	rec.ObserveCompletion("m", sampleStats())
	rec.ObserveError("reset")

	assert.Equal(t, 1, a.Snapshot().Responses)
	assert.Equal(t, 1, b.Snapshot().Errors)
}
