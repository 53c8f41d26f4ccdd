// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"

	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// HOUSEKEEPING
// =============================================================================

// ClearMessages empties the conversation and resets stats.
func (c *Controller) ClearMessages() error {
	var err error
	c.update(func() {
		if c.st.Phase != PhaseIdle {
			err = ErrStreaming
			return
		}
		c.conv.Clear()
		c.st.Stats = model.InferenceStats{}
	})
	return err
}

// ClearError dismisses the user-visible error.
func (c *Controller) ClearError() {
	c.update(func() { c.st.Error = "" })
}

// ClearConnectionError dismisses the connection error.
func (c *Controller) ClearConnectionError() {
	c.update(func() { c.st.ConnectionError = "" })
}

// ToggleShowThinking flips reasoning visibility and returns the new value.
func (c *Controller) ToggleShowThinking() bool {
	var v bool
	c.update(func() {
		c.st.ShowThinking = !c.st.ShowThinking
		v = c.st.ShowThinking
	})
	return v
}

// ToggleShowStats flips stats visibility and returns the new value.
func (c *Controller) ToggleShowStats() bool {
	var v bool
	c.update(func() {
		c.st.ShowStats = !c.st.ShowStats
		v = c.st.ShowStats
	})
	return v
}

// =============================================================================
// MODEL SETTINGS
// =============================================================================

// UpdateModelSettings validates, applies and persists s. Changes take
// effect on the next send.
func (c *Controller) UpdateModelSettings(s model.ModelSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.update(func() { c.st.Settings = s })
	c.persistSettings(s)
	return nil
}

// ApplySettings replaces the settings without persisting them. Used when
// the settings file changed on disk.
func (c *Controller) ApplySettings(s model.ModelSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.update(func() { c.st.Settings = s })
	return nil
}

// ResetModelSettings restores defaults, keeping the system prompt.
func (c *Controller) ResetModelSettings() {
	var s model.ModelSettings
	c.update(func() {
		c.st.Settings = c.st.Settings.Reset()
		s = c.st.Settings
	})
	c.persistSettings(s)
}

// SetSetting parses and applies one named setting, e.g. ("temperature", "0.2").
func (c *Controller) SetSetting(key, value string) error {
	next, err := c.State().Settings.With(key, value)
	if err != nil {
		return err
	}
	return c.UpdateModelSettings(next)
}

// SetSystemPrompt replaces the system prompt. A blank prompt disables it.
func (c *Controller) SetSystemPrompt(prompt string) error {
	return c.SetSetting("system_prompt", prompt)
}

// =============================================================================
// SERVER SETTINGS
// =============================================================================

// UpdateServerURL sets the address used by the next Connect.
func (c *Controller) UpdateServerURL(url string) {
	c.update(func() { c.st.Server.URL = strings.TrimSpace(url) })
}

// UpdateAPIKey sets the key used by the next Connect.
func (c *Controller) UpdateAPIKey(key string) {
	c.update(func() { c.st.Server.APIKey = strings.TrimSpace(key) })
}
