// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// REASONING EFFORT
// =============================================================================

// ReasoningEffort is the reasoning budget hint sent to reasoning-capable models.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// ParseReasoningEffort parses a case-insensitive effort name.
func ParseReasoningEffort(s string) (ReasoningEffort, error) {
	switch e := ReasoningEffort(strings.ToLower(strings.TrimSpace(s))); e {
	case ReasoningLow, ReasoningMedium, ReasoningHigh:
		return e, nil
	}
	return "", fmt.Errorf("invalid reasoning effort %q (want low, medium or high)", s)
}

// Valid reports whether e is one of the known levels.
func (e ReasoningEffort) Valid() bool {
	_, err := ParseReasoningEffort(string(e))
	return err == nil
}

// =============================================================================
// MODEL SETTINGS
// =============================================================================

// Default sampling values, used when a persisted key is absent.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultTopP        = 1.0
)

// ModelSettings are the per-request sampling parameters. It is a value type;
// callers update it by copy.
type ModelSettings struct {
	Temperature      float64         `json:"temperature"`
	MaxTokens        int             `json:"max_tokens"`
	TopP             float64         `json:"top_p"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
	SystemPrompt     string          `json:"system_prompt"`
	ReasoningEffort  ReasoningEffort `json:"reasoning_effort"`
	Streaming        bool            `json:"streaming"`
}

// DefaultModelSettings returns the documented defaults.
func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		Temperature:     DefaultTemperature,
		MaxTokens:       DefaultMaxTokens,
		TopP:            DefaultTopP,
		ReasoningEffort: ReasoningMedium,
		Streaming:       true,
	}
}

// Reset returns the defaults while keeping the current system prompt.
func (s ModelSettings) Reset() ModelSettings {
	d := DefaultModelSettings()
	d.SystemPrompt = s.SystemPrompt
	return d
}

// Validate checks every field against its accepted range and reports all
// problems at once.
func (s ModelSettings) Validate() error {
	var errs []error
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %g", s.Temperature))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative, got %d", s.MaxTokens))
	}
	if s.TopP < 0 || s.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p must be between 0 and 1, got %g", s.TopP))
	}
	if s.FrequencyPenalty < -2 || s.FrequencyPenalty > 2 {
		errs = append(errs, fmt.Errorf("frequency_penalty must be between -2 and 2, got %g", s.FrequencyPenalty))
	}
	if s.PresencePenalty < -2 || s.PresencePenalty > 2 {
		errs = append(errs, fmt.Errorf("presence_penalty must be between -2 and 2, got %g", s.PresencePenalty))
	}
	if !s.ReasoningEffort.Valid() {
		errs = append(errs, fmt.Errorf("invalid reasoning effort %q", s.ReasoningEffort))
	}
	return errors.Join(errs...)
}

// SettingKeys lists the names accepted by With, in display order.
var SettingKeys = []string{
	"temperature", "max_tokens", "top_p", "frequency_penalty",
	"presence_penalty", "reasoning_effort", "streaming", "system_prompt",
}

// With returns a copy of s with one field parsed from text and validated.
func (s ModelSettings) With(key, value string) (ModelSettings, error) {
	value = strings.TrimSpace(value)
	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "temperature", "temp":
		s.Temperature, err = strconv.ParseFloat(value, 64)
	case "max_tokens", "max-tokens":
		s.MaxTokens, err = strconv.Atoi(value)
	case "top_p", "top-p":
		s.TopP, err = strconv.ParseFloat(value, 64)
	case "frequency_penalty", "frequency-penalty":
		s.FrequencyPenalty, err = strconv.ParseFloat(value, 64)
	case "presence_penalty", "presence-penalty":
		s.PresencePenalty, err = strconv.ParseFloat(value, 64)
	case "reasoning_effort", "reasoning":
		s.ReasoningEffort, err = ParseReasoningEffort(value)
	case "streaming", "stream":
		s.Streaming, err = strconv.ParseBool(value)
	case "system_prompt", "system":
		s.SystemPrompt = value
	default:
		return s, fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return s, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// =============================================================================
// SERVER CONFIG
// =============================================================================

// ServerConfig identifies the server and the selected model.
type ServerConfig struct {
	URL           string `json:"url"`
	APIKey        string `json:"-"`
	SelectedModel string `json:"selected_model"`
}

// HasAPIKey reports whether a non-blank key is configured.
func (c ServerConfig) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// HasModel reports whether a model is selected.
func (c ServerConfig) HasModel() bool {
	return strings.TrimSpace(c.SelectedModel) != ""
}
