// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase is the send state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseFinalizing
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseSending:    "sending",
	PhaseStreaming:  "streaming",
	PhaseFinalizing: "finalizing",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// =============================================================================
// STATE SNAPSHOT
// =============================================================================

// State is an immutable snapshot of everything a front end renders.
// Slices are never modified after publication.
type State struct {
	Phase    Phase
	Messages []model.Message
	Stats    model.InferenceStats

	Server   model.ServerConfig
	Settings model.ModelSettings

	Connecting bool
	Connected  bool
	Secure     bool

	Models        []api.ModelInfo
	LoadingModels bool
	// ManagementSupported enables load/unload.
	ManagementSupported bool
	LoadingModel        bool

	// PingLatency is zero when unknown or the last probe failed.
	PingLatency time.Duration

	// Error is the one-shot user-visible error of the last operation.
	Error string
	// ConnectionError is scoped to connect/disconnect.
	ConnectionError string

	ShowThinking bool
	ShowStats    bool
}

// IsStreaming reports whether a send is in progress.
func (s State) IsStreaming() bool {
	return s.Phase != PhaseIdle
}

// StreamingMessage returns the in-flight assistant message, if any.
func (s State) StreamingMessage() (model.Message, bool) {
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Streaming {
		return s.Messages[n-1], true
	}
	return model.Message{}, false
}

// =============================================================================
// STORE
// =============================================================================

// Listener is notified with the newest State after each change.
type Listener func(State)

// Store holds the current State and its subscribers.
type Store struct {
	mu        sync.RWMutex
	state     State
	nextID    int
	listeners map[int]Listener
}

// NewStore creates a store with an initial state.
func NewStore(initial State) *Store {
	return &Store{state: initial, listeners: make(map[int]Listener)}
}

// Get returns the current snapshot.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn and returns its id for Unsubscribe.
func (s *Store) Subscribe(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = fn
	return s.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

// set replaces the snapshot without notifying.
func (s *Store) set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// notify delivers the newest snapshot to every listener.
func (s *Store) notify() {
	s.mu.RLock()
	st := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(st)
	}
}
