// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the persisted hexai configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Model   ModelConfig   `toml:"model" json:"model"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// ServerConfig is the connection target.
type ServerConfig struct {
	// URL may omit the scheme; the prober picks https or http on connect.
	URL           string `toml:"url" json:"url" env:"HEXAI_SERVER_URL"`
	APIKey        string `toml:"api_key" json:"api_key" env:"HEXAI_API_KEY"`
	SelectedModel string `toml:"selected_model" json:"selected_model" env:"HEXAI_MODEL"`
}

// ModelConfig holds the sampling parameters sent with every request.
type ModelConfig struct {
	Temperature      float64 `toml:"temperature" json:"temperature" env:"HEXAI_TEMPERATURE"`
	MaxTokens        int     `toml:"max_tokens" json:"max_tokens" env:"HEXAI_MAX_TOKENS"`
	TopP             float64 `toml:"top_p" json:"top_p"`
	FrequencyPenalty float64 `toml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty  float64 `toml:"presence_penalty" json:"presence_penalty"`
	SystemPrompt     string  `toml:"system_prompt" json:"system_prompt"`
	ReasoningEffort  string  `toml:"reasoning_effort" json:"reasoning_effort" env:"HEXAI_REASONING_EFFORT"`
	Streaming        bool    `toml:"streaming" json:"streaming" env:"HEXAI_STREAMING"`
}

// UIConfig contains front end toggles.
type UIConfig struct {
	ShowThinking bool `toml:"show_thinking" json:"show_thinking"`
	ShowStats    bool `toml:"show_stats" json:"show_stats"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	// ListenAddr enables /metrics when non-empty, e.g. "127.0.0.1:9464".
	ListenAddr string `toml:"listen_addr" json:"listen_addr" env:"HEXAI_METRICS_ADDR"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	Level string `toml:"level" json:"level" env:"HEXAI_LOG_LEVEL"`
	// File defaults to ~/.hexai/logs/hexai.log.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	s := model.DefaultModelSettings()
	return &Config{
		Model: ModelConfig{
			Temperature:      s.Temperature,
			MaxTokens:        s.MaxTokens,
			TopP:             s.TopP,
			FrequencyPenalty: s.FrequencyPenalty,
			PresencePenalty:  s.PresencePenalty,
			ReasoningEffort:  string(s.ReasoningEffort),
			Streaming:        s.Streaming,
		},
		UI: UIConfig{
			ShowThinking: true,
			ShowStats:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns ~/.hexai.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".hexai"), nil
}

// DefaultPath returns the config file path, honouring HEXAI_CONFIG.
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("HEXAI_CONFIG")); p != "" {
		return p, nil
	}
	return inConfigDir("config.toml")
}

// HistoryPath returns the conversation archive path.
func HistoryPath() (string, error) {
	return inConfigDir("history.db")
}

// LogPath returns the default log file path.
func LogPath() (string, error) {
	return inConfigDir("logs", "hexai.log")
}

func inConfigDir(elem ...string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// ensureSecurePermissions tightens an existing config file to 0600.
// SECURITY: The file may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, env.Options{})
}

func load(path string, opts env.Options) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			meta, err := toml.DecodeFile(path, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			for _, key := range meta.Undecoded() {
				log.Warn().Str("key", key.String()).Str("file", path).Msg("unknown config key ignored")
			}
			if err := ensureSecurePermissions(path); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("could not secure config file")
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
// SECURITY: The file may hold an API key.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# hexai configuration file\n")
	buf.WriteString("# Generated by hexai - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// normalize trims free-form strings.
func (c *Config) normalize() {
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	c.Server.APIKey = strings.TrimSpace(c.Server.APIKey)
	c.Server.SelectedModel = strings.TrimSpace(c.Server.SelectedModel)
	c.Model.ReasoningEffort = strings.ToLower(strings.TrimSpace(c.Model.ReasoningEffort))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate reports every problem at once as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.URL != "" && strings.Contains(c.Server.URL, "://") {
		u, err := url.Parse(c.Server.URL)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{"server.url", err.Error()})
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, ValidationError{"server.url", fmt.Sprintf("unsupported scheme %q (use http or https)", u.Scheme)})
		case u.Host == "":
			errs = append(errs, ValidationError{"server.url", "missing host"})
		}
	}

	if err := c.ModelSettings().Validate(); err != nil {
		for _, e := range unjoin(err) {
			errs = append(errs, ValidationError{"model", e.Error()})
		}
	}

	if !validLogLevels[c.Log.Level] {
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// unjoin splits an errors.Join result.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// =============================================================================
// DOMAIN CONVERSION
// =============================================================================

// ModelSettings converts the [model] table.
func (c *Config) ModelSettings() model.ModelSettings {
	return model.ModelSettings{
		Temperature:      c.Model.Temperature,
		MaxTokens:        c.Model.MaxTokens,
		TopP:             c.Model.TopP,
		FrequencyPenalty: c.Model.FrequencyPenalty,
		PresencePenalty:  c.Model.PresencePenalty,
		SystemPrompt:     c.Model.SystemPrompt,
		ReasoningEffort:  model.ReasoningEffort(c.Model.ReasoningEffort),
		Streaming:        c.Model.Streaming,
	}
}

// SetModelSettings replaces the [model] table.
func (c *Config) SetModelSettings(s model.ModelSettings) {
	c.Model = ModelConfig{
		Temperature:      s.Temperature,
		MaxTokens:        s.MaxTokens,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		SystemPrompt:     s.SystemPrompt,
		ReasoningEffort:  string(s.ReasoningEffort),
		Streaming:        s.Streaming,
	}
}

// ServerConfig converts the [server] table.
func (c *Config) ServerConfig() model.ServerConfig {
	return model.ServerConfig{
		URL:           c.Server.URL,
		APIKey:        c.Server.APIKey,
		SelectedModel: c.Server.SelectedModel,
	}
}

// SetServerConfig replaces the [server] table.
func (c *Config) SetServerConfig(s model.ServerConfig) {
	c.Server = ServerConfig{
		URL:           s.URL,
		APIKey:        s.APIKey,
		SelectedModel: s.SelectedModel,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value of a dotted key such as "model.temperature".
// The API key is redacted.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "server.url":
		return c.Server.URL, nil
	case "server.api_key":
		return redact(c.Server.APIKey), nil
	case "server.selected_model":
		return c.Server.SelectedModel, nil
	case "ui.show_thinking":
		return strconv.FormatBool(c.UI.ShowThinking), nil
	case "ui.show_stats":
		return strconv.FormatBool(c.UI.ShowStats), nil
	case "metrics.listen_addr":
		return c.Metrics.ListenAddr, nil
	case "log.level":
		return c.Log.Level, nil
	case "log.file":
		return c.Log.File, nil
	}
	if name, ok := strings.CutPrefix(key, "model."); ok {
		s := c.ModelSettings()
		switch name {
		case "temperature":
			return strconv.FormatFloat(s.Temperature, 'g', -1, 64), nil
		case "max_tokens":
			return strconv.Itoa(s.MaxTokens), nil
		case "top_p":
			return strconv.FormatFloat(s.TopP, 'g', -1, 64), nil
		case "frequency_penalty":
			return strconv.FormatFloat(s.FrequencyPenalty, 'g', -1, 64), nil
		case "presence_penalty":
			return strconv.FormatFloat(s.PresencePenalty, 'g', -1, 64), nil
		case "system_prompt":
			return s.SystemPrompt, nil
		case "reasoning_effort":
			return string(s.ReasoningEffort), nil
		case "streaming":
			return strconv.FormatBool(s.Streaming), nil
		}
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// Set parses value into a dotted key and revalidates.
func (c *Config) Set(key, value string) error {
	next := *c
	var err error

	switch key {
	case "server.url":
		next.Server.URL = value
	case "server.api_key":
		next.Server.APIKey = value
	case "server.selected_model":
		next.Server.SelectedModel = value
	case "ui.show_thinking":
		next.UI.ShowThinking, err = strconv.ParseBool(value)
	case "ui.show_stats":
		next.UI.ShowStats, err = strconv.ParseBool(value)
	case "metrics.listen_addr":
		next.Metrics.ListenAddr = value
	case "log.level":
		next.Log.Level = value
	case "log.file":
		next.Log.File = value
	default:
		name, ok := strings.CutPrefix(key, "model.")
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		s, werr := c.ModelSettings().With(name, value)
		if werr != nil {
			return werr
		}
		next.SetModelSettings(s)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	next.normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Keys returns every dotted key accepted by Get and Set, sorted.
func Keys() []string {
	keys := []string{
		"server.url", "server.api_key", "server.selected_model",
		"ui.show_thinking", "ui.show_stats",
		"metrics.listen_addr", "log.level", "log.file",
	}
	for _, k := range model.SettingKeys {
		keys = append(keys, "model."+k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a copy. Config holds only values, so a shallow copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as indented JSON with the API key redacted.
// SECURITY: Keeps the key out of logs and terminal output.
func (c *Config) String() string {
	safe := c.Clone()
	safe.Server.APIKey = redact(safe.Server.APIKey)
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
