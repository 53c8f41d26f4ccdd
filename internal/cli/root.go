// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// root.go - Root command, global flags and shared command setup.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cjct-dev/HexAI/internal/config"
	"github.com/cjct-dev/HexAI/internal/logging"
	"github.com/cjct-dev/HexAI/internal/probe"
	"github.com/cjct-dev/HexAI/internal/session"
	"github.com/cjct-dev/HexAI/internal/telemetry"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	configPath string
	logLevel   string
	logConsole bool
	jsonOutput bool

	serverURL string
	apiKey    string
	modelID   string
)

// app is what the persistent pre-run prepared for the command.
var app struct {
	cfg       *config.Config
	path      string
	logCloser io.Closer
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "hexai",
	Short: "Terminal chat client for OpenAI-compatible and llama.cpp router servers",
	Long: `hexai chats with a self-hosted OpenAI-compatible server (llama.cpp,
llama-server router mode, vLLM, ...) from the terminal. Responses stream live,
reasoning is shown separately, and per-response stats report time to first
token and tokens per second.

Running hexai with no command starts the chat REPL.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runChat,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.hexai/config.toml, or $HEXAI_CONFIG)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&logConsole, "log-console", false, "log to stderr instead of the log file")
	pf.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON where supported")
	pf.StringVar(&serverURL, "url", "", "server address, with or without scheme")
	pf.StringVar(&apiKey, "api-key", "", "bearer token for the server")
	pf.StringVar(&modelID, "model", "", "model id to use")

	rootCmd.Version = Version
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd, healthCmd, loadCmd, unloadCmd)
	rootCmd.AddCommand(importCmd, exportCmd, historyCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command and exits with a category exit code on error.
func Execute() {
	err := rootCmd.Execute()
	if app.logCloser != nil {
		_ = app.logCloser.Close()
	}
	if err != nil {
		DisplayError(os.Stderr, err, jsonOutput)
		os.Exit(GetExitCode(err))
	}
}

// setup loads the config, applies flag overrides and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Server.URL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	}
	if flags.Changed("api-key") {
		cfg.Server.APIKey = strings.TrimSpace(apiKey)
	}
	if flags.Changed("model") {
		cfg.Server.SelectedModel = strings.TrimSpace(modelID)
	}

	level := cfg.Log.Level
	if flags.Changed("log-level") {
		level = logLevel
	}
	file := cfg.Log.File
	if file == "" {
		if file, err = config.LogPath(); err != nil {
			return err
		}
	}
	closer, err := logging.Setup(logging.Config{Level: level, File: file, Console: logConsole})
	if err != nil {
		return err
	}

	app.cfg = cfg
	app.path = path
	app.logCloser = closer

	log.Debug().
		Str("command", cmd.CommandPath()).
		Str("config", path).
		Msg("starting")
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// newController builds a session controller from the loaded config. Settings
// changes made through it are written back to the config file.
func newController(recorder telemetry.Recorder) (*session.Controller, *config.FilePersister) {
	persister := config.NewFilePersister(app.path, app.cfg)
	c := session.NewController(session.Options{
		Server:       app.cfg.ServerConfig(),
		Settings:     app.cfg.ModelSettings(),
		ShowThinking: app.cfg.UI.ShowThinking,
		ShowStats:    app.cfg.UI.ShowStats,
		Persister:    persister,
		Recorder:     recorder,
	})
	return c, persister
}

// connectedController connects a fresh controller for a one-shot command.
func connectedController(ctx context.Context) (*session.Controller, error) {
	if strings.TrimSpace(app.cfg.Server.URL) == "" {
		return nil, fmt.Errorf("%w (use --url or 'hexai config set server.url ...')", probe.ErrBlankURL)
	}
	c, _ := newController(nil)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
