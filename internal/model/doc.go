// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the session
// controller, the exporters and the conversation archive.
//
// # Key Types
//
//   - Conversation: ordered message list; at most one trailing streaming message
//   - Message: single message with role, content, optional thinking content
//   - InferenceStats: token counts and latency for the latest send
//   - ModelSettings: sampling parameters and response mode
//   - ServerConfig: base URL, API key and selected model
//
// # Usage
//
//	conv := model.NewConversation()
//	_ = conv.Append(model.NewUserMessage("Hello!"))
//	reply := model.NewAssistantPlaceholder()
//	_ = conv.Append(reply)
//	reply.AppendContent("Hi")
//	reply.Finalize()
package model
