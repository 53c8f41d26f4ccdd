// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns the capitalized role name used in exports and headers.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole maps a display name or wire name back to a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, true
	case "assistant":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	}
	return "", false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	Streaming   bool `json:"-"`
	contentBuf  strings.Builder
	thinkingBuf strings.Builder
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantPlaceholder creates an empty assistant message that receives
// streamed tokens until Finalize is called.
func NewAssistantPlaceholder() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.Streaming = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendContent appends a content delta to a streaming message.
func (m *Message) AppendContent(text string) {
	if m.Streaming {
		m.contentBuf.WriteString(text)
	}
}

// AppendThinking appends a reasoning delta to a streaming message.
func (m *Message) AppendThinking(text string) {
	if m.Streaming {
		m.thinkingBuf.WriteString(text)
	}
}

// Finalize freezes the streamed buffers into Content and Thinking and clears
// the streaming flag. It reports false when the message was already final.
func (m *Message) Finalize() bool {
	if !m.Streaming {
		return false
	}
	m.Content = m.contentBuf.String()
	m.Thinking = thinkingText(m.thinkingBuf.String())
	m.contentBuf.Reset()
	m.thinkingBuf.Reset()
	m.Streaming = false
	return true
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if m.Streaming {
		return m.contentBuf.String()
	}
	return m.Content
}

// DisplayThinking returns the reasoning content to display (streaming or final).
func (m *Message) DisplayThinking() string {
	if m.Streaming {
		return thinkingText(m.thinkingBuf.String())
	}
	return m.Thinking
}

// HasThinking reports whether the message carries non-blank reasoning content.
func (m *Message) HasThinking() bool {
	return m.DisplayThinking() != ""
}

// Snapshot returns a detached copy holding the current display content.
// The copy shares no buffers with the receiver.
func (m *Message) Snapshot() Message {
	return Message{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.DisplayContent(),
		Thinking:  m.DisplayThinking(),
		CreatedAt: m.CreatedAt,
		Streaming: m.Streaming,
	}
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(strings.Join(strings.Fields(m.DisplayContent()), " "))
	if len(runes) <= maxLen {
		return string(runes)
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// thinkingText drops whitespace-only reasoning so it is treated as absent.
func thinkingText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
