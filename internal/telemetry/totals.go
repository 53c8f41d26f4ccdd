// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// SESSION TOTALS
// =============================================================================

// SessionTotals aggregates telemetry for the lifetime of one process.
type SessionTotals struct {
	mu      sync.RWMutex
	started time.Time
	totals  Totals
	byModel map[string]*ModelTotals

	rateSum   float64
	rateCount int
}

// Totals is a point-in-time copy of the aggregate.
type Totals struct {
	StartTime        time.Time
	Responses        int
	PromptTokens     int
	CompletionTokens int
	Errors           int
	// AvgTokensPerSecond is the mean over responses that reported a rate.
	AvgTokensPerSecond float64
	// LastHealthLatency is zero until a probe succeeds.
	LastHealthLatency time.Duration
	Models            []ModelTotals
}

// ModelTotals is the per-model breakdown.
type ModelTotals struct {
	Model            string
	Responses        int
	CompletionTokens int
}

// NewSessionTotals starts an empty aggregate.
func NewSessionTotals() *SessionTotals {
	return &SessionTotals{
		started: time.Now(),
		byModel: make(map[string]*ModelTotals),
	}
}

// ObserveCompletion adds one response.
func (s *SessionTotals) ObserveCompletion(modelID string, stats model.InferenceStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.Responses++
	s.totals.PromptTokens += stats.PromptTokens
	s.totals.CompletionTokens += stats.CompletionTokens
	if stats.TokensPerSecond > 0 {
		s.rateSum += stats.TokensPerSecond
		s.rateCount++
	}

	mt, ok := s.byModel[modelID]
	if !ok {
		mt = &ModelTotals{Model: modelID}
		s.byModel[modelID] = mt
	}
	mt.Responses++
	mt.CompletionTokens += stats.CompletionTokens
}

// ObserveError counts a failure.
func (s *SessionTotals) ObserveError(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.Errors++
}

// ObserveHealth keeps the most recent probe latency.
func (s *SessionTotals) ObserveHealth(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.LastHealthLatency = latency
}

// Snapshot returns a copy with models sorted by name.
func (s *SessionTotals) Snapshot() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.totals
	out.StartTime = s.started
	if s.rateCount > 0 {
		out.AvgTokensPerSecond = s.rateSum / float64(s.rateCount)
	}
	out.Models = make([]ModelTotals, 0, len(s.byModel))
	for _, mt := range s.byModel {
		out.Models = append(out.Models, *mt)
	}
	sort.Slice(out.Models, func(i, j int) bool { return out.Models[i].Model < out.Models[j].Model })
	return out
}

// Duration returns how long the session has been running.
func (s *SessionTotals) Duration() time.Duration {
	return time.Since(s.started)
}
