// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// USABILITY: liner gives arrow-key history and line editing; Ctrl+C cancels
// a streaming response, and a second Ctrl+C at an idle prompt exits.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cjct-dev/HexAI/internal/config"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/session"
	"github.com/cjct-dev/HexAI/internal/storage"
	"github.com/cjct-dev/HexAI/internal/telemetry"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat REPL",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for the REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor backed by historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line; non-blank input is added to history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is everything one REPL run owns.
type chatSession struct {
	ctrl      *session.Controller
	persister *config.FilePersister
	totals    *telemetry.SessionTotals
	archive   *storage.Store // nil when the database could not be opened
	view      *liveView
	out       io.Writer

	// savedID is the archive id of the current conversation once /save ran.
	savedID     string
	metricsAddr net.Addr

	// cancelCmd aborts the command or send in progress.
	mu        sync.Mutex
	cancelCmd context.CancelFunc
}

// commandContext derives the context for one REPL command. Ctrl+C cancels it
// through interrupt; release must be called when the command returns.
func (s *chatSession) commandContext(parent context.Context) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelCmd = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		s.cancelCmd = nil
		s.mu.Unlock()
		cancel()
	}
}

// interrupt stops the in-flight response and whatever command is running.
func (s *chatSession) interrupt() {
	s.ctrl.CancelStreaming()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCmd != nil {
		s.cancelCmd()
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s := &chatSession{
		totals: telemetry.NewSessionTotals(),
		out:    cmd.OutOrStdout(),
	}

	recorders := []telemetry.Recorder{s.totals}
	if addr := app.cfg.Metrics.ListenAddr; addr != "" {
		reg := prometheus.NewRegistry()
		recorders = append(recorders, telemetry.NewPromRecorder(reg))
		bound, err := telemetry.Serve(ctx, addr, reg)
		if err != nil {
			fmt.Fprintf(s.out, "%s metrics listener: %v\n", WarningStyle.Render("[WARN]"), err)
		} else {
			s.metricsAddr = bound
		}
	}

	s.ctrl, s.persister = newController(telemetry.Multi(recorders...))
	defer s.ctrl.Close()

	if archive, err := openArchive(); err != nil {
		log.Warn().Err(err).Msg("conversation archive unavailable")
	} else {
		s.archive = archive
		defer archive.Close()
	}

	s.view = newLiveView(s.out, IsStdoutTTY(), GetTerminalWidth())
	sub := s.ctrl.Subscribe(s.view.update)
	defer s.ctrl.Unsubscribe(sub)

	s.watchConfig(ctx)

	s.printWelcome()
	if strings.TrimSpace(s.ctrl.State().Server.URL) != "" {
		s.connect(ctx)
	} else {
		fmt.Fprintln(s.out, DimStyle.Render("No server configured. Use /connect <host:port> to get started."))
	}

	historyFile := filepath.Join(filepath.Dir(app.path), "chat_history")
	input := NewChatCLI(historyFile)
	defer input.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			// Only delivered while the prompt is not reading (liner owns
			// Ctrl+C in raw mode), i.e. during a send or a slow command.
			s.interrupt()
		}
	}()

	aborted := false
	for {
		line, err := input.ReadInput(s.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) && !aborted {
				aborted = true
				fmt.Fprintln(s.out, DimStyle.Render("(press Ctrl+C again or type /quit to exit)"))
				continue
			}
			fmt.Fprintln(s.out)
			s.printExitSummary()
			return nil
		}
		aborted = false

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmdCtx, release := s.commandContext(ctx)
			quit, err := s.handleSlash(cmdCtx, line)
			release()
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(s.out, WarningStyle.Render("[Cancelled]"))
				err = nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if quit {
				s.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			s.printExitSummary()
			return nil
		}

		cmdCtx, release := s.commandContext(ctx)
		err = s.send(cmdCtx, line)
		release()
		if err != nil {
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// prompt shows the selected model, or a placeholder when none is set.
func (s *chatSession) prompt() string {
	id := s.ctrl.State().Server.SelectedModel
	if id == "" {
		return "hexai> "
	}
	if i := strings.LastIndexAny(id, "/\\"); i >= 0 && i < len(id)-1 {
		id = id[i+1:]
	}
	return id + "> "
}

// =============================================================================
// SENDING
// =============================================================================

// send streams one response. Rejected sends report the controller's message;
// cancelled sends keep the partial answer.
func (s *chatSession) send(ctx context.Context, text string) error {
	err := s.ctrl.SendMessage(ctx, text)
	st := s.ctrl.State()

	if isRejection(err) {
		if st.Error != "" {
			s.ctrl.ClearError()
			return errors.New(st.Error)
		}
		return err
	}

	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == model.RoleAssistant {
		s.view.finish(st.Messages[n-1], st.ShowThinking)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(s.out, WarningStyle.Render("[Cancelled]"))
	}
	if st.Error != "" {
		fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render("[Error]"), st.Error)
		s.ctrl.ClearError()
	}
	if st.ShowStats {
		if line := formatStats(st.Stats); line != "" {
			fmt.Fprintln(s.out, line)
		}
	}
	fmt.Fprintln(s.out)
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, session.ErrBlankInput) ||
		errors.Is(err, session.ErrStreaming) ||
		errors.Is(err, session.ErrNoModel) ||
		errors.Is(err, session.ErrNotConnected)
}

// =============================================================================
// CONNECTION
// =============================================================================

// connect connects to the configured server and prints the outcome.
func (s *chatSession) connect(ctx context.Context) {
	fmt.Fprintln(s.out, DimStyle.Render("Connecting to "+s.ctrl.State().Server.URL+" ..."))
	s.reportConnect(ctx, s.ctrl.Connect(ctx))
}

// connectTo switches to rawURL with key and prints the outcome.
func (s *chatSession) connectTo(ctx context.Context, rawURL, key string) {
	fmt.Fprintln(s.out, DimStyle.Render("Connecting to "+rawURL+" ..."))
	s.reportConnect(ctx, s.ctrl.ConnectTo(ctx, rawURL, key))
}

func (s *chatSession) reportConnect(ctx context.Context, err error) {
	st := s.ctrl.State()
	if err != nil && ctx.Err() != nil {
		fmt.Fprintln(s.out, WarningStyle.Render("[Cancelled]"))
		return
	}
	if !st.Connected {
		fmt.Fprintf(s.out, "%s %s\n", RenderStatus("failed"), st.ConnectionError)
		return
	}
	lock := ""
	if st.Secure {
		lock = " (TLS)"
	}
	fmt.Fprintf(s.out, "%s %s%s\n", RenderStatus("connected"), st.Server.URL, lock)
	if st.Error != "" {
		fmt.Fprintf(s.out, "%s %s\n", WarningStyle.Render("[WARN]"), st.Error)
		s.ctrl.ClearError()
	}
	if st.Server.SelectedModel != "" {
		fmt.Fprintln(s.out, RenderField("Model", st.Server.SelectedModel))
	} else if len(st.Models) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("The server reported no models."))
	}
}

// watchConfig applies model settings edited in the config file while the
// REPL runs.
func (s *chatSession) watchConfig(ctx context.Context) {
	err := config.Watch(ctx, app.path, func(cfg *config.Config) {
		if err := s.ctrl.ApplySettings(cfg.ModelSettings()); err != nil {
			log.Warn().Err(err).Msg("ignoring reloaded model settings")
			return
		}
		log.Info().Str("file", app.path).Msg("model settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("config file will not be watched")
	}
}

// =============================================================================
// BANNERS
// =============================================================================

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("hexai "+Version))
	fmt.Fprintln(s.out, DimStyle.Render("Type a message, /help for commands, Ctrl+C to cancel a response."))
	if s.metricsAddr != nil {
		fmt.Fprintln(s.out, DimStyle.Render("Metrics on http://"+s.metricsAddr.String()+"/metrics"))
	}
	fmt.Fprintln(s.out, RenderSeparator())
}

func (s *chatSession) printExitSummary() {
	t := s.totals.Snapshot()
	if t.Responses == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("Goodbye."))
		return
	}
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("%d responses, %d tokens, %.1f tok/s average over %s. Goodbye.",
		t.Responses, t.CompletionTokens, t.AvgTokensPerSecond, s.totals.Duration().Round(time.Second))))
}
