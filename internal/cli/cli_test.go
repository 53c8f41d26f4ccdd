// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/config"
	"github.com/cjct-dev/HexAI/internal/export"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/probe"
	"github.com/cjct-dev/HexAI/internal/session"
	"github.com/cjct-dev/HexAI/internal/storage"
	"github.com/cjct-dev/HexAI/internal/telemetry"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// newChatServer serves one model and answers every chat request with
// "Hello there" as an SSE stream.
func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]string{{"id": "m1"}},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, text := range []string{"Hello", " there"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", text)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestChat builds a chat session connected to srv, writing into a buffer.
func newTestChat(t *testing.T, srv *httptest.Server) (*chatSession, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.URL = srv.URL
	persister := config.NewFilePersister(filepath.Join(dir, "config.toml"), cfg)

	totals := telemetry.NewSessionTotals()
	ctrl := session.NewController(session.Options{
		Server:         cfg.ServerConfig(),
		Settings:       cfg.ModelSettings(),
		ShowStats:      true,
		Persister:      persister,
		Recorder:       totals,
		HealthInterval: time.Hour,
	})
	t.Cleanup(ctrl.Close)

	archive, err := storage.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	var out bytes.Buffer
	s := &chatSession{
		ctrl:      ctrl,
		persister: persister,
		totals:    totals,
		archive:   archive,
		view:      newLiveView(&out, false, 80),
		out:       &out,
	}
	id := ctrl.Subscribe(s.view.update)
	t.Cleanup(func() { ctrl.Unsubscribe(id) })

	s.connect(context.Background())
	require.True(t, ctrl.State().Connected, out.String())
	return s, &out
}

func slash(t *testing.T, s *chatSession, line string) {
	t.Helper()
	quit, err := s.handleSlash(context.Background(), line)
	require.NoError(t, err, line)
	require.False(t, quit, line)
}

// =============================================================================
// REPL TESTS
// =============================================================================

func TestChat_SendPrintsResponseAndStats(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))
	out.Reset()

	require.NoError(t, s.send(context.Background(), "hi"))

	text := out.String()
	assert.Contains(t, text, "Hello there")
	assert.Contains(t, text, "2 tokens")
	assert.Equal(t, 1, s.totals.Snapshot().Responses)
}

func TestChat_SendRejectedWithoutModel(t *testing.T) {
	s, _ := newTestChat(t, newChatServer(t))
	s.ctrl.Disconnect()

	err := s.send(context.Background(), "hi")
	require.Error(t, err)
	assert.Empty(t, s.ctrl.State().Error, "rejection message should be consumed")
}

func TestChat_SettingsCommands(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))

	slash(t, s, "/set temperature 0.3")
	assert.InDelta(t, 0.3, s.ctrl.State().Settings.Temperature, 1e-9)
	assert.Contains(t, out.String(), "temperature = 0.3")

	slash(t, s, "/system You are terse.")
	assert.Equal(t, "You are terse.", s.ctrl.State().Settings.SystemPrompt)

	slash(t, s, "/reset")
	st := s.ctrl.State()
	assert.InDelta(t, model.DefaultModelSettings().Temperature, st.Settings.Temperature, 1e-9)
	assert.Equal(t, "You are terse.", st.Settings.SystemPrompt)

	slash(t, s, "/system -")
	assert.Empty(t, s.ctrl.State().Settings.SystemPrompt)

	_, err := s.handleSlash(context.Background(), "/set temperature 9")
	assert.Error(t, err)

	_, err = s.handleSlash(context.Background(), "/set temperature")
	var usage *UsageError
	assert.True(t, errors.As(err, &usage))
}

func TestChat_TogglesArePersisted(t *testing.T) {
	s, _ := newTestChat(t, newChatServer(t))
	before := s.ctrl.State().ShowThinking

	slash(t, s, "/think")
	assert.Equal(t, !before, s.ctrl.State().ShowThinking)
	assert.Equal(t, !before, s.persister.Config().UI.ShowThinking)

	slash(t, s, "/stats")
	assert.False(t, s.persister.Config().UI.ShowStats)
}

func TestChat_ModelCommands(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))
	assert.Equal(t, "m1", s.ctrl.State().Server.SelectedModel)

	slash(t, s, "/models")
	assert.Contains(t, out.String(), "m1")

	out.Reset()
	slash(t, s, "/model other")
	assert.Equal(t, "other", s.ctrl.State().Server.SelectedModel)
	assert.Contains(t, out.String(), "did not list")

	_, err := s.handleSlash(context.Background(), "/load")
	assert.Error(t, err, "management is not supported by this server")
}

func TestChat_ExportImportRoundTrip(t *testing.T) {
	s, _ := newTestChat(t, newChatServer(t))
	require.NoError(t, s.send(context.Background(), "hi"))

	dir := t.TempDir()
	mdPath := filepath.Join(dir, "chat.md")
	jsonPath := filepath.Join(dir, "chat.json")
	slash(t, s, "/export "+mdPath)
	slash(t, s, "/export "+jsonPath)

	var doc export.Document
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Messages, 2)

	slash(t, s, "/clear")
	assert.Empty(t, s.ctrl.State().Messages)

	slash(t, s, "/import "+mdPath)
	msgs := s.ctrl.State().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "Hello there", msgs[1].Content)
}

func TestChat_ArchiveCommands(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))
	require.NoError(t, s.send(context.Background(), "remember this"))

	slash(t, s, "/save")
	require.NotEmpty(t, s.savedID)
	first := s.savedID

	// Saving again updates the same archive entry.
	slash(t, s, "/save")
	assert.Equal(t, first, s.savedID)

	out.Reset()
	slash(t, s, "/history remember")
	assert.Contains(t, out.String(), first[:8])

	slash(t, s, "/clear")
	assert.Empty(t, s.savedID)

	slash(t, s, "/open "+first[:8])
	assert.Len(t, s.ctrl.State().Messages, 2)
	assert.Equal(t, first, s.savedID)
}

func TestChat_StatusAndUnknown(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))

	slash(t, s, "/status")
	text := out.String()
	assert.Contains(t, text, "Ping")
	assert.Contains(t, text, "Responses")
	assert.Contains(t, text, "temperature")

	_, err := s.handleSlash(context.Background(), "/bogus")
	var usage *UsageError
	require.True(t, errors.As(err, &usage))

	quit, err := s.handleSlash(context.Background(), "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestChat_DisconnectClearsArchiveLink(t *testing.T) {
	s, _ := newTestChat(t, newChatServer(t))
	s.savedID = "abc"

	slash(t, s, "/disconnect")
	assert.False(t, s.ctrl.State().Connected)
	assert.Empty(t, s.savedID)
}

func TestChat_ConnectToNewAddress(t *testing.T) {
	s, out := newTestChat(t, newChatServer(t))
	other := newChatServer(t)

	slash(t, s, "/connect "+other.URL)

	st := s.ctrl.State()
	assert.True(t, st.Connected)
	assert.Equal(t, other.URL, st.Server.URL)
	assert.Contains(t, out.String(), "Connecting to "+other.URL)
}

func TestChat_InterruptCancelsRunningCommand(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			// Later listings hang until the client gives up.
			<-r.Context().Done()
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "m1"}}})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s, out := newTestChat(t, srv)

	ctx, release := s.commandContext(context.Background())
	defer release()
	done := make(chan error, 1)
	go func() {
		_, err := s.handleSlash(ctx, "/models")
		done <- err
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.interrupt()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("/models kept running after Ctrl+C")
	}
	assert.Empty(t, s.ctrl.State().Error)
	assert.NotContains(t, out.String(), "Failed to fetch models")
}

func TestChat_InterruptWithoutCommand(t *testing.T) {
	s, _ := newTestChat(t, newChatServer(t))

	ctx, release := s.commandContext(context.Background())
	release()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// Nothing running: must not panic or block.
	s.interrupt()
}

func TestCompleteSlash(t *testing.T) {
	assert.Equal(t, []string{"/model ", "/models "}, completeSlash("/mode"))
	assert.Nil(t, completeSlash("hello"))
	assert.Nil(t, completeSlash("/set temp"))
}

// =============================================================================
// RENDERING TESTS
// =============================================================================

func streaming(id, thinking, content string) session.State {
	return session.State{
		ShowThinking: true,
		Messages: []model.Message{{
			ID: id, Role: model.RoleAssistant,
			Thinking: thinking, Content: content, Streaming: true,
		}},
	}
}

func TestLiveView_PrintsOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	v.update(streaming("a", "", "Hel"))
	v.update(streaming("a", "", "Hello"))
	v.update(streaming("a", "", "Hello"))
	assert.Equal(t, "Hello", buf.String())

	v.finish(model.Message{ID: "a", Role: model.RoleAssistant, Content: "Hello"}, true)
	assert.Equal(t, "Hello\n", buf.String())
}

func TestLiveView_ThinkingThenContent(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	v.update(streaming("a", "hmm", ""))
	v.update(streaming("a", "hmm", "Hi"))
	assert.Equal(t, "hmm\n\nHi", buf.String())
}

func TestLiveView_HidesThinkingWhenOff(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	st := streaming("a", "hmm", "Hi")
	st.ShowThinking = false
	v.update(st)
	assert.Equal(t, "Hi", buf.String())
}

func TestLiveView_NewMessageResets(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	v.update(streaming("a", "", "one"))
	v.update(streaming("b", "", "two"))
	assert.Equal(t, "onetwo", buf.String())
}

func TestLiveView_FinishWithoutStreamPrintsMessage(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	v.finish(model.Message{Role: model.RoleAssistant, Content: "Bulk answer"}, false)
	assert.Contains(t, buf.String(), "Bulk answer")
}

func TestLiveView_Rows(t *testing.T) {
	v := newLiveView(&bytes.Buffer{}, true, 10)
	v.printed.WriteString("12345678901\nabc\n")
	assert.Equal(t, 4, v.rowsLocked())
}

func TestFormatModelTable(t *testing.T) {
	assert.Equal(t, "No models available.", formatModelTable(nil, nil, ""))

	models := []api.ModelInfo{{ID: "b"}, {ID: "a"}}
	extended := []api.ServerModel{
		{ID: "a", Status: json.RawMessage(`"loaded"`)},
		{ID: "c", Status: json.RawMessage(`{"value":"unloaded"}`)},
	}
	table := formatModelTable(models, extended, "b")
	lines := strings.Split(table, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "[LOADED]")
	assert.Contains(t, lines[2], "* b")
	assert.Contains(t, lines[3], "[UNLOADED]")
}

func TestFormatStats(t *testing.T) {
	assert.Empty(t, formatStats(model.InferenceStats{}))
	line := formatStats(model.InferenceStats{CompletionTokens: 10, TokensPerSecond: 5})
	assert.Contains(t, line, "10 tokens")
}

// =============================================================================
// ERROR AND EXPORT HELPERS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"usage", ErrMissingArgument("id", "/open x"), ExitUsageError},
		{"config validation", fmt.Errorf("config: %w", config.ValidateErrors{{Field: "model.temperature", Message: "out of range"}}), ExitConfigError},
		{"blank url", fmt.Errorf("connect: %w", probe.ErrBlankURL), ExitConfigError},
		{"not found", &CommandError{Command: "export", Action: "x", Err: storage.ErrNotFound}, ExitNotFoundError},
		{"unauthorized", &api.ClientError{Type: api.ErrTypeHTTPStatus, StatusCode: 401, Message: "HTTP 401: no"}, ExitAuthError},
		{"server error", &api.ClientError{Type: api.ErrTypeHTTPStatus, StatusCode: 500, Message: "HTTP 500: no"}, ExitNetworkError},
		{"timeout", &api.ClientError{Type: api.ErrTypeTimeout, Message: "Connection timed out"}, ExitTimeoutError},
		{"reset", &api.ClientError{Type: api.ErrTypeReset, Message: "reset"}, ExitNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, storage.ErrNotFound, true)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, float64(ExitNotFoundError), got["exit_code"])
}

func TestDisplayError_Hints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"reset", &api.ClientError{Type: api.ErrTypeReset, Message: "Connection reset by server"}, "still running"},
		{"closed", &api.ClientError{Type: api.ErrTypeClosed, Message: "Connection closed unexpectedly"}, "still running"},
		{"aborted", &api.ClientError{Type: api.ErrTypeAborted, Message: "Connection interrupted"}, "try again"},
		{"timeout", &api.ClientError{Type: api.ErrTypeTimeout, Message: "Connection timed out"}, "still be loading"},
		{"auth", &api.ClientError{Type: api.ErrTypeHTTPStatus, StatusCode: 401, Message: "HTTP 401"}, "--api-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			DisplayError(&buf, &CommandError{Command: "models", Action: "list", Err: tt.err}, false)
			assert.Contains(t, buf.String(), "Hint: ")
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	var buf bytes.Buffer
	DisplayError(&buf, errors.New("boom"), true)
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.NotContains(t, got, "hint")
}

func TestExporterFor(t *testing.T) {
	e, err := exporterFor("json", nil)
	require.NoError(t, err)
	assert.Equal(t, ".json", e.FileExtension())

	e, err = exporterFor("", export.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ".md", e.FileExtension())

	_, err = exporterFor("xml", nil)
	var usage *UsageError
	assert.True(t, errors.As(err, &usage))
}

func TestReadMarkdownFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.md")
	require.NoError(t, os.WriteFile(path, []byte("# HexAI Chat Export\n"), 0o600))

	_, err := readMarkdownFile(path)
	assert.ErrorIs(t, err, export.ErrNoMessages)
}
