// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// sseServer writes the given lines as an SSE body, flushing after each.
func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func contentChunk(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, text)
}

// recorder collects events from the stream callback.
type recorder struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (r *recorder) handle(ev StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamEvent(nil), r.events...)
}

func (r *recorder) content() string {
	var sb strings.Builder
	for _, ev := range r.all() {
		if c, ok := ev.(ContentEvent); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

func (r *recorder) count(match func(StreamEvent) bool) int {
	n := 0
	for _, ev := range r.all() {
		if match(ev) {
			n++
		}
	}
	return n
}

func isDone(ev StreamEvent) bool  { _, ok := ev.(DoneEvent); return ok }
func isError(ev StreamEvent) bool { _, ok := ev.(ErrorEvent); return ok }

func testRequest() ChatRequest {
	return NewChatRequest("test-model", []ChatMessage{{Role: "user", Content: "hi"}}, model.DefaultModelSettings(), true)
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStream_ConcatenatesContentInOrder(t *testing.T) {
	srv := sseServer(t,
		contentChunk("Hel"),
		contentChunk("lo"),
		contentChunk(" world"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":3,"total_tokens":7}}`,
		"data: [DONE]",
	)

	rec := &recorder{}
	err := NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle)
	require.NoError(t, err)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, StartedEvent{}, events[0])
	assert.Equal(t, "Hello world", rec.content())
	assert.Equal(t, 1, rec.count(isDone), "finish_reason and [DONE] must yield one DoneEvent")
	assert.Equal(t, 0, rec.count(isError))

	done := events[len(events)-1].(DoneEvent)
	assert.LessOrEqual(t, done.TTFT, done.TotalTime)
}

func TestStream_MalformedLineDoesNotAbort(t *testing.T) {
	srv := sseServer(t,
		"data: {bad",
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		"data: [DONE]",
	)

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle))
	assert.Contains(t, rec.all(), StreamEvent(ContentEvent{Text: "ok"}))
	assert.Equal(t, 1, rec.count(isDone))
}

func TestStream_ReasoningAndTimings(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		contentChunk("answer"),
		`data: {"choices":[{"delta":{},"finish_reason":"end_turn"}],"timings":{"prompt_n":3,"predicted_n":1,"predicted_per_second":12.5}}`,
	)

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle))

	events := rec.all()
	require.Len(t, events, 5)
	assert.Equal(t, ReasoningEvent{Text: "thinking"}, events[1])
	assert.Equal(t, ContentEvent{Text: "answer"}, events[2])
	timing, ok := events[3].(TimingEvent)
	require.True(t, ok)
	assert.Equal(t, 12.5, *timing.Timings.PredictedPerSecond)
	assert.IsType(t, DoneEvent{}, events[4])
}

func TestStream_EOFWithoutDoneStillCompletes(t *testing.T) {
	srv := sseServer(t, contentChunk("partial"))

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle))
	assert.Equal(t, 1, rec.count(isDone))
	assert.Equal(t, "partial", rec.content())
}

func TestStream_HTTPErrorEmitsSingleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle))

	events := rec.all()
	require.Len(t, events, 1)
	ev := events[0].(ErrorEvent)
	assert.Equal(t, ErrTypeHTTPStatus, ev.Type)
	assert.Equal(t, "HTTP 503: model not loaded", ev.Message)
}

func TestStream_RequestShape(t *testing.T) {
	var (
		gotAuth, gotAccept, gotPath string
		body                        map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	settings := model.DefaultModelSettings()
	settings.MaxTokens = 0
	settings.PresencePenalty = 0.5
	req := NewChatRequest("m1", []ChatMessage{{Role: "user", Content: "hi"}}, settings, false)

	client := NewClient(srv.URL+"/", "sk-test")
	require.NoError(t, client.Stream(context.Background(), req, func(StreamEvent) {}))

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "m1", body["model"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Equal(t, "medium", body["reasoning_effort"])
	assert.Equal(t, 0.5, body["presence_penalty"])
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "frequency_penalty")
}

func TestStream_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	var seen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, seen = r.Header.Get("Authorization"), true
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), func(StreamEvent) {}))
	require.True(t, seen)
	assert.Empty(t, gotAuth)
}

// =============================================================================
// CANCELLATION AND FAILURE TESTS
// =============================================================================

func TestStream_CancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s\n\n", contentChunk("Hel"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	err := NewClient(srv.URL, "").Stream(ctx, testRequest(), func(ev StreamEvent) {
		rec.handle(ev)
		if _, ok := ev.(ContentEvent); ok {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Hel", rec.content())
	assert.Equal(t, 0, rec.count(isError), "cancellation must not surface an error")
	assert.Equal(t, 0, rec.count(isDone))
}

func TestStream_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.ReadTimeout = 100 * time.Millisecond

	rec := &recorder{}
	err := NewClientWithConfig(cfg).Stream(context.Background(), testRequest(), rec.handle)
	require.NoError(t, err)

	events := rec.all()
	require.NotEmpty(t, events)
	ev, ok := events[len(events)-1].(ErrorEvent)
	require.True(t, ok, "expected terminal ErrorEvent, got %#v", events)
	assert.Equal(t, ErrTypeTimeout, ev.Type)
	assert.Equal(t, "Connection timed out", ev.Message)
}

func TestStream_TrailingUsageAfterStopThenDrainDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":9,\"total_tokens\":14}}\n\n")
		flusher.Flush()
		// Never sends [DONE] and keeps the connection open.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.DrainTimeout = 100 * time.Millisecond

	rec := &recorder{}
	started := time.Now()
	require.NoError(t, NewClientWithConfig(cfg).Stream(context.Background(), testRequest(), rec.handle))
	assert.Less(t, time.Since(started), 2*time.Second, "stream held open after finish_reason")

	assert.Equal(t, "hi", rec.content())
	assert.Equal(t, 1, rec.count(isDone))
	assert.Equal(t, 0, rec.count(isError))

	var usage *UsageEvent
	doneSeen := false
	for _, ev := range rec.all() {
		switch e := ev.(type) {
		case DoneEvent:
			doneSeen = true
		case UsageEvent:
			assert.True(t, doneSeen, "usage frame follows the stop chunk")
			usage = &e
		}
	}
	require.NotNil(t, usage)
	require.NotNil(t, usage.Usage.CompletionTokens)
	assert.Equal(t, 9, *usage.Usage.CompletionTokens)
}

func TestStream_ConnectionDroppedKeepsPartialEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s\n\n", contentChunk("Hel"))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL, "").Stream(context.Background(), testRequest(), rec.handle))

	assert.Equal(t, "Hel", rec.content())
	assert.Equal(t, 1, rec.count(isError))
	assert.Equal(t, 0, rec.count(isDone))
}

func TestStream_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	require.NoError(t, NewClient(url, "").Stream(context.Background(), testRequest(), rec.handle))

	events := rec.all()
	require.Len(t, events, 1)
	ev := events[0].(ErrorEvent)
	assert.NotEqual(t, ErrTypeHTTPStatus, ev.Type)
	assert.NotEmpty(t, ev.Message)
}

func TestStream_NotConfigured(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, NewClient("", "").Stream(context.Background(), testRequest(), rec.handle))
	require.Len(t, rec.all(), 1)
	assert.True(t, isError(rec.all()[0]))
}
