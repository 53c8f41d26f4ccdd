// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs a streaming chat completion and delivers events to fn in
// arrival order, on the calling goroutine.
//
// The sequence is StartedEvent, then content/reasoning/usage/timing events,
// then exactly one terminal DoneEvent or ErrorEvent. A non-2xx status yields a
// lone ErrorEvent. The connection is closed on every exit path.
//
// Once a finish_reason has produced the DoneEvent, trailing usage and timing
// frames are still delivered for up to DrainTimeout, then the connection is
// dropped.
//
// Stream returns nil after a terminal event, or ctx.Err() if the caller
// cancelled; cancellation never produces an ErrorEvent.
func (c *Client) Stream(ctx context.Context, chat ChatRequest, fn EventHandler) error {
	chat.Stream = true

	// The watchdog cancels streamCtx with errReadTimeout when the server goes
	// quiet for longer than ReadTimeout.
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := c.newJSONRequest(streamCtx, http.MethodPost, chatCompletionsPath, chat)
	if err != nil {
		fn(NewErrorEvent(err))
		return nil
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	var drain *time.Timer
	defer func() {
		if drain != nil {
			drain.Stop()
		}
	}()
	s := &streamState{started: time.Now(), emit: fn}
	s.onDone = func() {
		if c.config.DrainTimeout > 0 {
			drain = time.AfterFunc(c.config.DrainTimeout, func() { cancel(errDrainTimeout) })
		}
	}
	watchdog := newIdleWatchdog(c.config.ReadTimeout, func() { cancel(errReadTimeout) })
	defer watchdog.stop()

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return s.fail(ctx, streamCtx, err)
	}
	defer resp.Body.Close()
	logResponse(req, resp.StatusCode, s.started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fn(NewErrorEvent(httpStatusError(resp.StatusCode, readErrorBody(resp.Body))))
		return nil
	}

	// Check if cancelled before proceeding
	if err := ctx.Err(); err != nil {
		return err
	}
	fn(StartedEvent{})

	return c.readLoop(ctx, streamCtx, resp.Body, s, watchdog)
}

// readLoop consumes the body line by line until [DONE], EOF, failure or
// cancellation.
func (c *Client) readLoop(ctx, streamCtx context.Context, body io.Reader, s *streamState, watchdog *idleWatchdog) error {
	reader := bufio.NewReader(body)
	malformed := 0

	for {
		// Cancellation is checked before every blocking read...
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := reader.ReadString('\n')
		watchdog.reset()

		if line != "" {
			frame := DecodeLine(line)
			switch frame.Kind {
			case FrameDone:
				s.done()
				return nil
			case FrameChunk:
				for _, ev := range MapChunk(frame.Chunk) {
					s.apply(ev)
				}
			default:
				if frame.Malformed {
					malformed++
				}
			}
		}

		// ...and again after each processed line.
		if err := ctx.Err(); err != nil {
			return err
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if malformed > 0 {
					log.Debug().Int("frames", malformed).Msg("dropped malformed stream frames")
				}
				// A server that closes without [DONE] still ends the turn.
				s.done()
				return nil
			}
			return s.fail(ctx, streamCtx, readErr)
		}
	}
}

// NewErrorEvent converts any error into a terminal ErrorEvent.
func NewErrorEvent(err error) ErrorEvent {
	var ce *ClientError
	if !errors.As(err, &ce) {
		ce = Classify(err)
	}
	if ce == nil {
		return ErrorEvent{Type: ErrTypeUnknown, Message: err.Error()}
	}
	return ErrorEvent{Type: ce.Type, Message: ce.UserMessage()}
}

// =============================================================================
// STREAM STATE
// =============================================================================

// streamState tracks timing and the single-Done guarantee for one stream.
type streamState struct {
	started    time.Time
	firstToken time.Time
	finished   bool
	emit       EventHandler
	// onDone runs after the DoneEvent has been emitted.
	onDone func()
}

// apply forwards a mapped event, recording first-token time and collapsing
// duplicate DoneEvents.
func (s *streamState) apply(ev StreamEvent) {
	switch ev.(type) {
	case ContentEvent, ReasoningEvent:
		if s.firstToken.IsZero() {
			s.firstToken = time.Now()
		}
	case DoneEvent:
		s.done()
		return
	}
	s.emit(ev)
}

// done emits the terminal DoneEvent once.
func (s *streamState) done() {
	if s.finished {
		return
	}
	s.finished = true

	var ttft time.Duration
	if !s.firstToken.IsZero() {
		ttft = s.firstToken.Sub(s.started)
	}
	s.emit(DoneEvent{TTFT: ttft, TotalTime: time.Since(s.started)})
	if s.onDone != nil {
		s.onDone()
	}
}

// fail reports a transport failure unless the caller cancelled.
func (s *streamState) fail(ctx, streamCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(context.Cause(streamCtx), errReadTimeout) {
		err = errReadTimeout
	}
	if s.finished {
		// The turn already ended with a finish_reason; this is the drain
		// deadline or the server hanging up early.
		log.Debug().Err(err).Msg("stream closed after completion")
		return nil
	}
	s.finished = true

	ev := NewErrorEvent(err)
	log.Warn().Str("type", ev.Type.String()).Err(err).Msg("stream failed")
	s.emit(ev)
	return nil
}

// =============================================================================
// IDLE WATCHDOG
// =============================================================================

// idleWatchdog fires once if reset is not called within timeout.
type idleWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
}

func newIdleWatchdog(timeout time.Duration, fire func()) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, fire)
	}
	return w
}

func (w *idleWatchdog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
