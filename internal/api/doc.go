// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the client side of the OpenAI-compatible chat
// completions protocol, including the llama.cpp router extensions
// (reasoning_content deltas, timings blocks, model load/unload).
//
// The package is layered leaves first:
//
//   - codec.go: DecodeLine turns one SSE line into a Frame (none, chunk, done)
//   - events.go: MapChunk turns a decoded Chunk into StreamEvents
//   - stream.go: Client.Stream owns the connection and read loop
//   - client.go: Client.Complete performs the non-streaming (bulk) request
//   - admin.go: model listing, health and model management endpoints
//
// # Usage
//
//	client := api.NewClient("http://localhost:8080", "")
//	req := api.NewChatRequest("qwen3", msgs, model.DefaultModelSettings(), true)
//	err := client.Stream(ctx, req, func(ev api.StreamEvent) {
//	    switch e := ev.(type) {
//	    case api.ContentEvent:
//	        fmt.Print(e.Text)
//	    case api.DoneEvent:
//	        fmt.Println("\nTTFT", e.TTFT)
//	    }
//	})
//
// Network failures never surface as errors from Stream; they are delivered as
// a terminal ErrorEvent. Stream only returns the context error when the
// caller cancels.
package api
