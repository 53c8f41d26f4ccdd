// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import "time"

// =============================================================================
// STREAM EVENTS
// =============================================================================

// StreamEvent is the closed set of session-level events produced by a stream.
// The unexported marker keeps the set closed to this package, so a type
// switch over the seven kinds below is exhaustive.
type StreamEvent interface {
	isStreamEvent()
}

// StartedEvent is emitted once the server accepted the request.
type StartedEvent struct{}

// ContentEvent carries a content delta.
type ContentEvent struct {
	Text string
}

// ReasoningEvent carries a reasoning/thinking delta.
type ReasoningEvent struct {
	Text string
}

// UsageEvent carries server token accounting. Absent fields are nil.
type UsageEvent struct {
	Usage Usage
}

// TimingEvent carries llama.cpp timing data. Absent fields are nil.
type TimingEvent struct {
	Timings Timings
}

// DoneEvent terminates a successful stream.
type DoneEvent struct {
	TTFT      time.Duration
	TotalTime time.Duration
}

// ErrorEvent terminates a failed stream with a user-facing message.
type ErrorEvent struct {
	Type    ErrorType
	Message string
}

func (StartedEvent) isStreamEvent()   {}
func (ContentEvent) isStreamEvent()   {}
func (ReasoningEvent) isStreamEvent() {}
func (UsageEvent) isStreamEvent()     {}
func (TimingEvent) isStreamEvent()    {}
func (DoneEvent) isStreamEvent()      {}
func (ErrorEvent) isStreamEvent()     {}

// EventHandler consumes events in arrival order.
type EventHandler func(StreamEvent)

// =============================================================================
// CHUNK MAPPING
// =============================================================================

// MapChunk converts a decoded chunk into events, ordered content, reasoning,
// usage, timing, then done. A finish_reason of "stop" or "end_turn" yields a
// DoneEvent with zero durations; the transport fills in the timing and makes
// sure only one DoneEvent reaches the caller.
func MapChunk(c *Chunk) []StreamEvent {
	if c == nil {
		return nil
	}

	var events []StreamEvent

	if ch := c.first(); ch != nil && ch.Delta != nil {
		if ch.Delta.Content != nil && *ch.Delta.Content != "" {
			events = append(events, ContentEvent{Text: *ch.Delta.Content})
		}
		if ch.Delta.ReasoningContent != nil && *ch.Delta.ReasoningContent != "" {
			events = append(events, ReasoningEvent{Text: *ch.Delta.ReasoningContent})
		}
	}

	if c.Usage != nil {
		events = append(events, UsageEvent{Usage: *c.Usage})
	}
	if c.Timings != nil {
		events = append(events, TimingEvent{Timings: *c.Timings})
	}

	if IsStopReason(c.FinishReason()) {
		events = append(events, DoneEvent{})
	}
	return events
}

// IsStopReason reports whether a finish_reason ends the turn.
func IsStopReason(reason string) bool {
	return reason == "stop" || reason == "end_turn"
}
