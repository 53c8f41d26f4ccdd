// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// INFERENCE STATISTICS
// =============================================================================

// InferenceStats holds token counts and timing for the most recent send.
// Server-reported values win over locally derived ones.
type InferenceStats struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	TokensPerSecond  float64       `json:"tokens_per_second"`
	TTFT             time.Duration `json:"ttft_ns"`
	TotalTime        time.Duration `json:"total_time_ns"`

	// ServerRate is set once the server has reported a generation rate.
	ServerRate bool `json:"server_rate"`
}

// MergeUsage overwrites only the counts that are present.
func (s *InferenceStats) MergeUsage(prompt, completion, total *int) {
	if prompt != nil {
		s.PromptTokens = *prompt
	}
	if completion != nil {
		s.CompletionTokens = *completion
	}
	if total != nil {
		s.TotalTokens = *total
	}
}

// MergeTimings folds server timing counters in. The total is recomputed from
// the prompt and predicted counts whenever either was supplied.
func (s *InferenceStats) MergeTimings(promptN, predictedN *int, predictedPerSecond *float64) {
	if promptN != nil {
		s.PromptTokens = *promptN
	}
	if predictedN != nil {
		s.CompletionTokens = *predictedN
	}
	if promptN != nil || predictedN != nil {
		s.TotalTokens = s.PromptTokens + s.CompletionTokens
	}
	if predictedPerSecond != nil {
		s.TokensPerSecond = *predictedPerSecond
		s.ServerRate = true
	}
}

// RecordTiming stores the client-measured latency figures.
func (s *InferenceStats) RecordTiming(ttft, total time.Duration) {
	s.TTFT = ttft
	s.TotalTime = total
}

// ApplyLocalRate derives tokens/sec from a local token tally when the server
// never reported a rate. Returns true if the rate was computed.
func (s *InferenceStats) ApplyLocalRate(tokenCount int, elapsed time.Duration) bool {
	if s.ServerRate || tokenCount <= 0 || elapsed <= 0 {
		return false
	}
	s.TokensPerSecond = float64(tokenCount) / elapsed.Seconds()
	if s.CompletionTokens == 0 {
		s.CompletionTokens = tokenCount
	}
	if s.TotalTime == 0 {
		s.TotalTime = elapsed
	}
	return true
}

// RefreshLocalRate recomputes a locally derived rate from the current
// completion count and total time. A server-reported rate is left alone.
func (s *InferenceStats) RefreshLocalRate() {
	if s.ServerRate || s.CompletionTokens <= 0 || s.TotalTime <= 0 {
		return
	}
	s.TokensPerSecond = float64(s.CompletionTokens) / s.TotalTime.Seconds()
}

// IsZero reports whether nothing has been recorded yet.
func (s InferenceStats) IsZero() bool {
	return s == InferenceStats{}
}

// Format returns a one-line summary, e.g. "TTFT 234ms | 51.2 tok/s | 128 tokens | 2.5s".
func (s InferenceStats) Format() string {
	return fmt.Sprintf("TTFT %dms | %.1f tok/s | %d tokens | %s",
		s.TTFT.Milliseconds(),
		s.TokensPerSecond,
		s.CompletionTokens,
		formatDuration(s.TotalTime),
	)
}

// formatDuration renders sub-second durations in ms and longer ones in seconds.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
