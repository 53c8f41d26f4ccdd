// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - One-shot commands: server, conversation and config management.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/config"
	"github.com/cjct-dev/HexAI/internal/export"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/probe"
	"github.com/cjct-dev/HexAI/internal/storage"
)

// commandTimeout bounds one-shot network commands.
const commandTimeout = 30 * time.Second

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// SERVER COMMANDS
// =============================================================================

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the server offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		c, err := connectedController(ctx)
		if err != nil {
			return &CommandError{Command: "models", Action: "connect", Err: err}
		}
		defer c.Close()

		st := c.State()
		if st.Error != "" {
			return errors.New(st.Error)
		}
		var extended []api.ServerModel
		if st.ManagementSupported {
			if extended, err = c.ListServerModels(ctx); err != nil {
				return &CommandError{Command: "models", Action: "list", Err: err}
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, map[string]any{
				"server":     st.Server.URL,
				"selected":   st.Server.SelectedModel,
				"management": st.ManagementSupported,
				"models":     st.Models,
				"extended":   extended,
			})
		}
		fmt.Fprintln(out, TitleStyle.Render("Models on "+st.Server.URL))
		fmt.Fprintln(out, formatModelTable(st.Models, extended, st.Server.SelectedModel))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Resolve the server address and measure /health latency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		if strings.TrimSpace(app.cfg.Server.URL) == "" {
			return probe.ErrBlankURL
		}
		res, err := probe.Resolve(ctx, app.cfg.Server.URL, app.cfg.Server.APIKey)
		if err != nil {
			return &CommandError{Command: "health", Action: "resolve", Err: err}
		}
		client := api.NewClient(res.URL, app.cfg.Server.APIKey)
		latency, err := probe.CheckHealth(ctx, client)
		if err != nil {
			return &CommandError{Command: "health", Action: "probe", Err: err}
		}
		management := probe.ProbeCapability(ctx, client)

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, map[string]any{
				"url":        res.URL,
				"secure":     res.Secure,
				"latency_ms": latency.Milliseconds(),
				"management": management,
			})
		}
		fmt.Fprintf(out, "%s %s\n", RenderStatus("ok"), res.URL)
		fmt.Fprintln(out, RenderField("Latency", latency.Round(time.Millisecond).String()))
		fmt.Fprintln(out, RenderField("TLS", yesNo(res.Secure)))
		fmt.Fprintln(out, RenderField("Model management", yesNo(management)))
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <model>",
	Short: "Ask a router server to load a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModelAction(cmd, "load", args[0])
	},
}

var unloadCmd = &cobra.Command{
	Use:   "unload <model>",
	Short: "Ask a router server to unload a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModelAction(cmd, "unload", args[0])
	},
}

func runModelAction(cmd *cobra.Command, action, id string) error {
	// Loading a large model can take minutes on the server side.
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	c, err := connectedController(ctx)
	if err != nil {
		return &CommandError{Command: action, Action: "connect", Err: err}
	}
	defer c.Close()

	if action == "load" {
		err = c.LoadModel(ctx, id)
	} else {
		err = c.UnloadModel(ctx, id)
	}
	if err != nil {
		return &CommandError{Command: action, Action: id, Err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %sed %s\n", RenderStatus("ok"), action, id)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

var importSave bool

var importCmd = &cobra.Command{
	Use:   "import <file.md>",
	Short: "Validate a Markdown chat export, optionally archiving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := readMarkdownFile(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d messages in %s\n", RenderStatus("ok"), len(msgs), args[0])
		if !importSave {
			return nil
		}

		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.Save(cmd.Context(), &storage.Conversation{Messages: msgs})
		if err != nil {
			return &CommandError{Command: "import", Action: "save", Err: err}
		}
		fmt.Fprintf(out, "Saved as %s\n", HighlightStyle.Render(id))
		return nil
	},
}

// readMarkdownFile parses a Markdown export; an empty result is an error.
func readMarkdownFile(path string) ([]model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	msgs, err := export.ParseMarkdown(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, export.ErrNoMessages)
	}
	return msgs, nil
}

var (
	exportFormat string
	exportDir    string
	exportStats  bool
)

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export an archived conversation to Markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := &export.Options{OutputDir: exportDir, IncludeStats: exportStats}
		exporter, err := exporterFor(exportFormat, opts)
		if err != nil {
			return err
		}

		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()

		conv, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return &CommandError{Command: "export", Action: args[0], Err: err}
		}
		doc := export.NewDocument(conv.Messages, conv.Model, conv.Stats)
		path, err := export.WriteFile(doc, exporter, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s exported to %s\n", RenderStatus("ok"), path)
		return nil
	},
}

// exporterFor maps a --format value to an exporter.
func exporterFor(format string, opts *export.Options) (export.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return export.NewMarkdownExporter(opts), nil
	case "json":
		return export.NewJSONExporter(), nil
	}
	return nil, &UsageError{Arg: "format", Reason: fmt.Sprintf("unsupported format %q", format), Example: "--format md|json"}
}

var (
	historySearch string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()

		metas, err := store.Search(cmd.Context(), historySearch, historyLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), metas)
		}
		fmt.Fprintln(cmd.OutOrStdout(), storage.FormatList(metas))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return &CommandError{Command: "history rm", Action: args[0], Err: err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", RenderStatus("ok"), args[0])
		return nil
	},
}

// openArchive opens the conversation database under the config directory.
func openArchive() (*storage.Store, error) {
	path, err := config.HistoryPath()
	if err != nil {
		return nil, err
	}
	return storage.Open(path)
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (API key redacted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), app.cfg.String())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), app.path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting, e.g. model.temperature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := app.cfg.Get(args[0])
		if err != nil {
			return &UsageError{Arg: "key", Reason: err.Error(), Example: "hexai config keys"}
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and save the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.Save(app.cfg, app.path); err != nil {
			return err
		}
		v, _ := app.cfg.Get(args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", RenderStatus("ok"), args[0], v)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the settings accepted by get and set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, k := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importSave, "save", false, "also store the conversation in the archive")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "output format: md or json")
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", ".", "output directory")
	exportCmd.Flags().BoolVar(&exportStats, "stats", false, "append the stats line (Markdown only)")

	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "only conversations containing this text")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", storage.DefaultListLimit, "maximum rows")
	historyCmd.AddCommand(historyDeleteCmd)

	configCmd.AddCommand(configShowCmd, configPathCmd, configGetCmd, configSetCmd, configKeysCmd)
}
