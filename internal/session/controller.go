// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/probe"
	"github.com/cjct-dev/HexAI/internal/telemetry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrBlankInput            = errors.New("message is blank")
	ErrStreaming             = errors.New("a response is already in progress")
	ErrNoModel               = errors.New("no model selected")
	ErrNotConnected          = errors.New("not connected to a server")
	ErrManagementUnsupported = errors.New("server does not support model management")
)

// User-visible messages placed on State.Error.
const (
	msgSelectModel  = "Please select a model first"
	msgNotConnected = "Not connected to a server"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Persister stores settings changes. Failures are logged, never surfaced.
type Persister interface {
	SaveServer(model.ServerConfig) error
	SaveModelSettings(model.ModelSettings) error
}

// Options configures a Controller.
type Options struct {
	Server model.ServerConfig

	// Settings defaults to model.DefaultModelSettings() when zero.
	Settings model.ModelSettings

	ShowThinking bool
	ShowStats    bool

	Persister Persister
	Recorder  telemetry.Recorder

	// HealthInterval defaults to probe.DefaultHealthInterval.
	HealthInterval time.Duration

	// ClientConfig supplies timeouts and transport for the chat client;
	// BaseURL and APIKey are filled in on connect.
	ClientConfig *api.Config

	// Resolver defaults to a zero probe.Resolver.
	Resolver *probe.Resolver
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the stateful core of a chat session. All methods are safe
// for concurrent use; SendMessage blocks for the duration of one response.
type Controller struct {
	mu sync.Mutex

	// st is authoritative for everything except Messages, which come from conv.
	st   State
	conv *model.Conversation

	// Per-send bookkeeping. active is nil once the placeholder is finalized.
	active      *model.Message
	tokenCount  int
	sendStarted time.Time
	// completed is set when the stream ended with Done rather than an error.
	completed bool

	client *api.Client
	store  *Store

	stream *cancelManager
	health *cancelManager

	persister      Persister
	recorder       telemetry.Recorder
	resolver       *probe.Resolver
	clientConfig   api.Config
	healthInterval time.Duration

	// actions throttles model load/unload requests.
	actions *rate.Limiter
}

// NewController creates an idle, disconnected controller.
func NewController(opts Options) *Controller {
	settings := opts.Settings
	if settings == (model.ModelSettings{}) {
		settings = model.DefaultModelSettings()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = &probe.Resolver{}
	}
	clientConfig := api.DefaultConfig()
	if opts.ClientConfig != nil {
		clientConfig = opts.ClientConfig
	}
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = probe.DefaultHealthInterval
	}

	c := &Controller{
		st: State{
			Phase:        PhaseIdle,
			Server:       opts.Server,
			Settings:     settings,
			ShowThinking: opts.ShowThinking,
			ShowStats:    opts.ShowStats,
		},
		conv:           model.NewConversation(),
		stream:         newCancelManager(),
		health:         newCancelManager(),
		persister:      opts.Persister,
		recorder:       recorder,
		resolver:       resolver,
		clientConfig:   *clientConfig,
		healthInterval: interval,
		actions:        rate.NewLimiter(rate.Every(time.Second), 2),
	}
	c.store = NewStore(c.st)
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	return c.store.Get()
}

// Subscribe registers a change listener.
func (c *Controller) Subscribe(fn Listener) int {
	return c.store.Subscribe(fn)
}

// Unsubscribe removes a change listener.
func (c *Controller) Unsubscribe(id int) {
	c.store.Unsubscribe(id)
}

// Close stops the health loop and any in-flight stream.
func (c *Controller) Close() {
	c.health.cancel()
	c.CancelStreaming()
}

// update mutates state under the lock, publishes the snapshot, then notifies
// listeners outside the lock.
func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	c.publishLocked()
	c.mu.Unlock()
	c.store.notify()
}

func (c *Controller) publishLocked() {
	st := c.st
	st.Messages = c.conv.Snapshot()
	c.store.set(st)
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage sends text as a user message and blocks until the response is
// finalized.
//
// Blank input, a send already in progress, a missing model selection and a
// missing connection are rejected without touching the conversation.
// Transport failures are reported on State.Error and return nil. If the
// stream was cancelled, the context error is returned after the partial
// response has been finalized.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrBlankInput
	}

	c.mu.Lock()
	if c.st.Phase != PhaseIdle {
		c.mu.Unlock()
		return ErrStreaming
	}
	if !c.st.Server.HasModel() {
		c.st.Error = msgSelectModel
		return c.rejectLocked(ErrNoModel)
	}
	client := c.client
	if client == nil {
		c.st.Error = msgNotConnected
		return c.rejectLocked(ErrNotConnected)
	}

	if err := c.conv.Append(model.NewUserMessage(text)); err != nil {
		c.mu.Unlock()
		return err
	}
	placeholder := model.NewAssistantPlaceholder()
	if err := c.conv.Append(placeholder); err != nil {
		c.mu.Unlock()
		return err
	}

	settings := c.st.Settings
	modelID := c.st.Server.SelectedModel
	messages := api.BuildMessages(settings.SystemPrompt, c.conv.History())
	req := api.NewChatRequest(modelID, messages, settings, settings.Streaming)

	c.active = placeholder
	c.tokenCount = 0
	c.completed = false
	c.sendStarted = time.Now()
	c.st.Stats = model.InferenceStats{}
	c.st.Error = ""
	c.st.Phase = PhaseSending

	streamCtx, cancel := context.WithCancel(ctx)
	c.stream.set(cancel)

	c.publishLocked()
	c.mu.Unlock()
	c.store.notify()

	log.Debug().
		Str("model", modelID).
		Int("messages", len(messages)).
		Bool("streaming", settings.Streaming).
		Msg("sending chat request")

	var err error
	if settings.Streaming {
		err = client.Stream(streamCtx, req, c.applyEvent)
	} else {
		err = c.completeBulk(streamCtx, client, req)
	}
	c.stream.cancel()

	c.update(c.endSendLocked)
	return err
}

// rejectLocked publishes a rejected send and releases the lock.
func (c *Controller) rejectLocked(err error) error {
	c.publishLocked()
	c.mu.Unlock()
	c.store.notify()
	return err
}

// CancelStreaming stops the in-flight response and finalizes the message
// with whatever content has arrived. No error is reported. It returns false
// if nothing was in flight.
func (c *Controller) CancelStreaming() bool {
	cancelled := c.stream.cancel()
	c.update(func() {
		c.finalizeLocked(outcomeCancelled)
	})
	return cancelled
}

// =============================================================================
// EVENT APPLICATION
// =============================================================================

// applyEvent is the stream callback. Events are applied in arrival order on
// the sending goroutine.
func (c *Controller) applyEvent(ev api.StreamEvent) {
	c.update(func() {
		c.applyLocked(ev)
	})
}

func (c *Controller) applyLocked(ev api.StreamEvent) {
	if c.st.Phase == PhaseIdle {
		return
	}

	// Usage and timing frames may trail the stop chunk; they are merged
	// until the transport returns.
	switch e := ev.(type) {
	case api.UsageEvent:
		c.st.Stats.MergeUsage(e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.TotalTokens)
		c.refreshRateLocked()
		return
	case api.TimingEvent:
		c.st.Stats.MergeTimings(e.Timings.PromptN, e.Timings.PredictedN, e.Timings.PredictedPerSecond)
		c.refreshRateLocked()
		return
	}

	msg := c.active
	if msg == nil {
		// Already finalized (cancelled, or content after the stop chunk).
		return
	}

	switch e := ev.(type) {
	case api.StartedEvent:
		c.st.Phase = PhaseStreaming
	case api.ContentEvent:
		msg.AppendContent(e.Text)
		c.tokenCount++
	case api.ReasoningEvent:
		msg.AppendThinking(e.Text)
	case api.DoneEvent:
		c.st.Stats.RecordTiming(e.TTFT, e.TotalTime)
		c.finalizeLocked(outcomeDone)
	case api.ErrorEvent:
		c.st.Error = e.Message
		c.recorder.ObserveError(e.Type.String())
		c.finalizeLocked(outcomeFailed)
	}
}

// refreshRateLocked re-derives the local rate from server counts that
// arrived after finalization.
func (c *Controller) refreshRateLocked() {
	if c.active == nil {
		c.st.Stats.RefreshLocalRate()
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeCancelled
)

// finalizeLocked freezes the placeholder and derives local stats. Only the
// first call per send has any effect.
func (c *Controller) finalizeLocked(how outcome) {
	msg := c.active
	if msg == nil {
		return
	}
	c.active = nil
	msg.Finalize()

	c.st.Stats.ApplyLocalRate(c.tokenCount, time.Since(c.sendStarted))
	if c.st.Phase != PhaseIdle {
		c.st.Phase = PhaseFinalizing
	}

	switch how {
	case outcomeDone:
		c.completed = true
	case outcomeCancelled:
		log.Debug().Int("tokens", c.tokenCount).Msg("response cancelled")
	}
}

// endSendLocked returns to Idle and reports a completed response with the
// stats as they stand once the transport is done.
func (c *Controller) endSendLocked() {
	c.finalizeLocked(outcomeCancelled)
	c.st.Phase = PhaseIdle
	if !c.completed {
		return
	}
	c.completed = false
	c.recorder.ObserveCompletion(c.st.Server.SelectedModel, c.st.Stats)
	log.Info().
		Str("model", c.st.Server.SelectedModel).
		Int("tokens", c.st.Stats.CompletionTokens).
		Dur("ttft", c.st.Stats.TTFT).
		Float64("tps", c.st.Stats.TokensPerSecond).
		Msg("response complete")
}

// =============================================================================
// BULK MODE
// =============================================================================

// completeBulk performs a non-streaming request and replays the response
// through the same event path as a stream.
func (c *Controller) completeBulk(ctx context.Context, client *api.Client, req api.ChatRequest) error {
	started := time.Now()
	resp, err := client.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.applyEvent(api.NewErrorEvent(err))
		return nil
	}
	elapsed := time.Since(started)

	events := []api.StreamEvent{api.StartedEvent{}}
	if text := resp.Content(); text != "" {
		events = append(events, api.ContentEvent{Text: text})
	}
	if text := resp.Reasoning(); text != "" {
		events = append(events, api.ReasoningEvent{Text: text})
	}
	if resp.Usage != nil {
		events = append(events, api.UsageEvent{Usage: *resp.Usage})
	}
	if resp.Timings != nil {
		events = append(events, api.TimingEvent{Timings: *resp.Timings})
	}

	for _, ev := range events {
		c.applyEvent(ev)
	}

	// One Content event stands for the whole answer; use the server's
	// completion count for the local rate when it has one.
	if resp.Usage != nil && resp.Usage.CompletionTokens != nil {
		c.mu.Lock()
		c.tokenCount = *resp.Usage.CompletionTokens
		c.mu.Unlock()
	}
	c.applyEvent(api.DoneEvent{TTFT: elapsed, TotalTime: elapsed})
	return nil
}

// userMessage renders err for State.Error.
func userMessage(err error) string {
	var ce *api.ClientError
	if errors.As(err, &ce) {
		return ce.UserMessage()
	}
	return err.Error()
}
