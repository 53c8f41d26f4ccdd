// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"strings"

	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is a message in the wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat/completions.
// Optional fields are omitted when they are at their no-op default.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	ReasoningEffort  string        `json:"reasoning_effort,omitempty"`
}

// NewChatRequest builds a request from the sampling settings.
// max_tokens is dropped when <= 0 and penalties when exactly 0.
func NewChatRequest(modelID string, messages []ChatMessage, s model.ModelSettings, stream bool) ChatRequest {
	req := ChatRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   stream,
	}

	temperature := s.Temperature
	req.Temperature = &temperature
	topP := s.TopP
	req.TopP = &topP

	if s.MaxTokens > 0 {
		maxTokens := s.MaxTokens
		req.MaxTokens = &maxTokens
	}
	if s.FrequencyPenalty != 0 {
		fp := s.FrequencyPenalty
		req.FrequencyPenalty = &fp
	}
	if s.PresencePenalty != 0 {
		pp := s.PresencePenalty
		req.PresencePenalty = &pp
	}
	if s.ReasoningEffort != "" {
		req.ReasoningEffort = string(s.ReasoningEffort)
	}
	return req
}

// BuildMessages prepends the system prompt (when non-blank) to the history.
// Stored system messages and streaming placeholders are skipped.
func BuildMessages(systemPrompt string, history []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, ChatMessage{Role: string(model.RoleSystem), Content: systemPrompt})
	}
	for _, m := range history {
		if m.Role == model.RoleSystem || m.Streaming {
			continue
		}
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// =============================================================================
// STREAMING RESPONSE TYPES
// =============================================================================

// Chunk is one decoded SSE payload. Every field is optional because servers
// populate different subsets.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
	Timings *Timings `json:"timings,omitempty"`
}

// Choice is one entry of choices[]. Streaming chunks carry Delta, bulk
// responses carry Message.
type Choice struct {
	Index        int              `json:"index"`
	Delta        *Delta           `json:"delta,omitempty"`
	Message      *ResponseMessage `json:"message,omitempty"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// Delta is the incremental fragment of a streaming chunk.
type Delta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

// Usage holds OpenAI-style token accounting.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// Timings is the llama.cpp server timing block.
type Timings struct {
	PromptN             *int     `json:"prompt_n,omitempty"`
	PromptMS            *float64 `json:"prompt_ms,omitempty"`
	PromptPerTokenMS    *float64 `json:"prompt_per_token_ms,omitempty"`
	PromptPerSecond     *float64 `json:"prompt_per_second,omitempty"`
	PredictedN          *int     `json:"predicted_n,omitempty"`
	PredictedMS         *float64 `json:"predicted_ms,omitempty"`
	PredictedPerTokenMS *float64 `json:"predicted_per_token_ms,omitempty"`
	PredictedPerSecond  *float64 `json:"predicted_per_second,omitempty"`
}

// first returns the first choice, or nil.
func (c *Chunk) first() *Choice {
	if len(c.Choices) == 0 {
		return nil
	}
	return &c.Choices[0]
}

// FinishReason returns choices[0].finish_reason, or "".
func (c *Chunk) FinishReason() string {
	if ch := c.first(); ch != nil && ch.FinishReason != nil {
		return *ch.FinishReason
	}
	return ""
}

// =============================================================================
// BULK RESPONSE TYPES
// =============================================================================

// ResponseMessage is the full assistant message of a non-streaming response.
type ResponseMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// CompletionResponse is the body returned when stream=false.
type CompletionResponse struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
	Timings *Timings `json:"timings,omitempty"`
}

// Content returns choices[0].message.content, or "".
func (r *CompletionResponse) Content() string {
	if len(r.Choices) > 0 && r.Choices[0].Message != nil {
		return r.Choices[0].Message.Content
	}
	return ""
}

// Reasoning returns choices[0].message.reasoning_content, or "".
func (r *CompletionResponse) Reasoning() string {
	if len(r.Choices) > 0 && r.Choices[0].Message != nil {
		return r.Choices[0].Message.ReasoningContent
	}
	return ""
}

// =============================================================================
// MODEL LISTING TYPES
// =============================================================================

// ModelInfo is an entry of GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object,omitempty"`
	Data   []ModelInfo `json:"data"`
}

// ServerModel is an entry of the router's extended GET /models listing.
// Status is kept raw: some builds send a string, others an object such as
// {"value":"loaded"}.
type ServerModel struct {
	ID      string          `json:"id"`
	Status  json.RawMessage `json:"status,omitempty"`
	InCache *bool           `json:"in_cache,omitempty"`
	Path    string          `json:"path,omitempty"`
}

// HasStatus reports whether the entry carried a non-null status field.
func (m ServerModel) HasStatus() bool {
	s := strings.TrimSpace(string(m.Status))
	return s != "" && s != "null"
}

// StatusText returns a printable status ("loaded", "unloaded", ...).
func (m ServerModel) StatusText() string {
	if !m.HasStatus() {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Status, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(m.Status, &obj); err == nil && obj.Value != "" {
		return obj.Value
	}
	return string(m.Status)
}

// ServerModelsResponse is the body of GET /models.
type ServerModelsResponse struct {
	Data []ServerModel `json:"data"`
}

// modelActionRequest is the body of POST /models/load and /models/unload.
type modelActionRequest struct {
	Model string `json:"model"`
}
