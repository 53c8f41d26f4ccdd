// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/cjct-dev/HexAI/internal/model"
)

// Recorder receives inference telemetry from the session controller.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// ObserveCompletion is called once per finished response.
	ObserveCompletion(modelID string, stats model.InferenceStats)

	// ObserveError is called once per transport error with its category.
	ObserveError(errType string)

	// ObserveHealth is called after each successful health probe.
	ObserveHealth(latency time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveCompletion(string, model.InferenceStats) {}
func (Nop) ObserveError(string)                            {}
func (Nop) ObserveHealth(time.Duration)                    {}

// multi fans out to several recorders.
type multi []Recorder

// Multi returns a Recorder that forwards to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) ObserveCompletion(modelID string, stats model.InferenceStats) {
	for _, r := range m {
		r.ObserveCompletion(modelID, stats)
	}
}

func (m multi) ObserveError(errType string) {
	for _, r := range m {
		r.ObserveError(errType)
	}
}

func (m multi) ObserveHealth(latency time.Duration) {
	for _, r := range m {
		r.ObserveHealth(latency)
	}
}
