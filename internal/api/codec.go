// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// SSE FRAME DECODING
// =============================================================================

// doneSentinel terminates an OpenAI-style stream.
const doneSentinel = "[DONE]"

// FrameKind classifies one SSE line.
type FrameKind int

const (
	// FrameNone is a non-data line, an empty payload or malformed JSON.
	FrameNone FrameKind = iota
	// FrameChunk carries a decoded Chunk.
	FrameChunk
	// FrameDone is the literal [DONE] terminator.
	FrameDone
)

// String returns a short name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameChunk:
		return "chunk"
	case FrameDone:
		return "done"
	default:
		return "none"
	}
}

// Frame is the result of decoding one line.
type Frame struct {
	Kind  FrameKind
	Chunk *Chunk

	// Malformed is set when the line was a data line whose JSON did not parse.
	// Such frames are still FrameNone.
	Malformed bool
}

// DecodeLine decodes a single raw line of an SSE response body.
// It never fails: anything it cannot use comes back as FrameNone.
func DecodeLine(line string) Frame {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		// event:, id:, retry:, ": keep-alive" comments and blank separators
		return Frame{Kind: FrameNone}
	}

	data := strings.TrimSpace(line[len("data:"):])
	if data == "" {
		return Frame{Kind: FrameNone}
	}
	if data == doneSentinel {
		return Frame{Kind: FrameDone}
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Frame{Kind: FrameNone, Malformed: true}
	}
	return Frame{Kind: FrameChunk, Chunk: &chunk}
}
