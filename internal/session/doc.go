// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the streaming chat session controller.
//
// The Controller owns one conversation, the model settings and the server
// connection. It runs at most one chat stream at a time and reconciles the
// stream's events into conversation state, finalizing the in-flight
// assistant message exactly once on completion, error or cancellation.
//
// # Phases
//
// Each send moves through Idle -> Sending -> Streaming -> Finalizing -> Idle.
// A send is rejected unless the phase is Idle.
//
// # Observing state
//
// Front ends read an immutable State snapshot with State() and register a
// Listener with Subscribe to be told about changes:
//
//	ctrl := session.NewController(session.Options{...})
//	id := ctrl.Subscribe(func(st session.State) { render(st) })
//	defer ctrl.Unsubscribe(id)
//	err := ctrl.SendMessage(ctx, "hello")
//
// Listeners run on the goroutine that caused the change and must not block.
package session
