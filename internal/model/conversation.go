// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
)

// ErrAlreadyStreaming is returned when a second streaming placeholder is appended.
var ErrAlreadyStreaming = errors.New("conversation already has a streaming message")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered sequence of messages. Messages are only ever
// appended; Clear and Replace are the only ways to remove any. At most one
// message is streaming at a time and it is always the last one.
//
// Conversation is not safe for concurrent use; the session controller owns it.
type Conversation struct {
	messages []*Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{messages: make([]*Message, 0)}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the conversation.
// Nothing may be appended while the last message is still streaming.
func (c *Conversation) Append(msg *Message) error {
	if c.Streaming() != nil {
		return ErrAlreadyStreaming
	}
	c.messages = append(c.messages, msg)
	return nil
}

// Last returns the most recent message, or nil when empty.
func (c *Conversation) Last() *Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// Streaming returns the in-flight placeholder, or nil if none.
func (c *Conversation) Streaming() *Message {
	if last := c.Last(); last != nil && last.Streaming {
		return last
	}
	return nil
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Clear removes every message.
func (c *Conversation) Clear() {
	c.messages = make([]*Message, 0)
}

// Replace swaps the whole message list. Streaming flags on the incoming
// messages are cleared.
func (c *Conversation) Replace(msgs []Message) {
	next := make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := &Message{
			ID:        msgs[i].ID,
			Role:      msgs[i].Role,
			Content:   msgs[i].Content,
			Thinking:  msgs[i].Thinking,
			CreatedAt: msgs[i].CreatedAt,
		}
		next = append(next, m)
	}
	c.messages = next
}

// Snapshot returns detached copies of all messages.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Snapshot()
	}
	return out
}

// History returns the messages eligible to be sent upstream: stored system
// messages and the streaming placeholder are excluded.
func (c *Conversation) History() []Message {
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role == RoleSystem || m.Streaming {
			continue
		}
		out = append(out, m.Snapshot())
	}
	return out
}
