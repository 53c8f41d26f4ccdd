// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CODEC TESTS
// =============================================================================

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		kind      FrameKind
		malformed bool
	}{
		{"blank", "", FrameNone, false},
		{"comment", ": keep-alive", FrameNone, false},
		{"event field", "event: message", FrameNone, false},
		{"empty data", "data: ", FrameNone, false},
		{"done", "data: [DONE]", FrameDone, false},
		{"done with crlf", "data: [DONE]\r\n", FrameDone, false},
		{"done without space", "data:[DONE]", FrameDone, false},
		{"malformed json", "data: {bad", FrameNone, true},
		{"chunk", `data: {"choices":[{"delta":{"content":"ok"}}]}`, FrameChunk, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DecodeLine(tt.line)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.malformed, f.Malformed)
			if tt.kind == FrameChunk {
				require.NotNil(t, f.Chunk)
			} else {
				assert.Nil(t, f.Chunk)
			}
		})
	}
}

func TestDecodeLine_OptionalFields(t *testing.T) {
	f := DecodeLine(`data: {"choices":[{"delta":{"reasoning_content":"think"},"finish_reason":null}],` +
		`"usage":{"completion_tokens":7},"timings":{"predicted_n":7,"predicted_per_second":42.5}}`)
	require.Equal(t, FrameChunk, f.Kind)

	c := f.Chunk
	require.Len(t, c.Choices, 1)
	assert.Nil(t, c.Choices[0].Delta.Content)
	require.NotNil(t, c.Choices[0].Delta.ReasoningContent)
	assert.Equal(t, "think", *c.Choices[0].Delta.ReasoningContent)
	assert.Equal(t, "", c.FinishReason())

	require.NotNil(t, c.Usage)
	assert.Nil(t, c.Usage.PromptTokens)
	assert.Equal(t, 7, *c.Usage.CompletionTokens)
	assert.Nil(t, c.Usage.TotalTokens)

	require.NotNil(t, c.Timings)
	assert.Nil(t, c.Timings.PromptN)
	assert.Equal(t, 42.5, *c.Timings.PredictedPerSecond)
}

// =============================================================================
// MAPPER TESTS
// =============================================================================

func TestMapChunk_Order(t *testing.T) {
	f := DecodeLine(`data: {"choices":[{"delta":{"content":"a","reasoning_content":"b"},"finish_reason":"stop"}],` +
		`"usage":{"total_tokens":3},"timings":{"predicted_n":2}}`)
	require.Equal(t, FrameChunk, f.Kind)

	events := MapChunk(f.Chunk)
	require.Len(t, events, 5)
	assert.Equal(t, ContentEvent{Text: "a"}, events[0])
	assert.Equal(t, ReasoningEvent{Text: "b"}, events[1])
	assert.IsType(t, UsageEvent{}, events[2])
	assert.IsType(t, TimingEvent{}, events[3])
	assert.Equal(t, DoneEvent{}, events[4])
}

func TestMapChunk_FinishReasons(t *testing.T) {
	tests := []struct {
		reason string
		done   bool
	}{
		{"stop", true},
		{"end_turn", true},
		{"length", false},
		{"tool_calls", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			f := DecodeLine(`data: {"choices":[{"delta":{},"finish_reason":"` + tt.reason + `"}]}`)
			events := MapChunk(f.Chunk)
			if tt.done {
				assert.Equal(t, []StreamEvent{DoneEvent{}}, events)
			} else {
				assert.Empty(t, events)
			}
		})
	}
}

func TestMapChunk_SkipsEmptyDeltas(t *testing.T) {
	f := DecodeLine(`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`)
	assert.Empty(t, MapChunk(f.Chunk))
	assert.Nil(t, MapChunk(nil))
}

// exhaustive documents that a switch over the event kinds covers the set.
func exhaustive(ev StreamEvent) string {
	switch ev.(type) {
	case StartedEvent:
		return "started"
	case ContentEvent:
		return "content"
	case ReasoningEvent:
		return "reasoning"
	case UsageEvent:
		return "usage"
	case TimingEvent:
		return "timing"
	case DoneEvent:
		return "done"
	case ErrorEvent:
		return "error"
	}
	return ""
}

func TestStreamEvent_ClosedSet(t *testing.T) {
	all := []StreamEvent{StartedEvent{}, ContentEvent{}, ReasoningEvent{}, UsageEvent{}, TimingEvent{}, DoneEvent{}, ErrorEvent{}}
	for _, ev := range all {
		assert.NotEmpty(t, exhaustive(ev))
	}
}
