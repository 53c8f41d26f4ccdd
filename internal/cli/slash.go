// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// slash.go - REPL slash commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/export"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/storage"
	"github.com/cjct-dev/HexAI/internal/util"
)

// slashCommand describes one REPL command for /help and completion.
type slashCommand struct {
	Name string
	Args string
	Help string
}

var slashCommands = []slashCommand{
	{"/help", "", "show this help"},
	{"/connect", "[url]", "connect to the configured or given server"},
	{"/key", "", "enter an API key (input hidden)"},
	{"/disconnect", "", "disconnect and clear the conversation"},
	{"/models", "", "refresh and list server models"},
	{"/model", "<id>", "select the model for new messages"},
	{"/load", "[id]", "load a model on a router server"},
	{"/unload", "[id]", "unload a model on a router server"},
	{"/set", "[key value]", "show or change a model setting"},
	{"/reset", "", "restore default model settings"},
	{"/system", "[prompt]", "show or set the system prompt (\"-\" clears it)"},
	{"/think", "", "toggle display of reasoning"},
	{"/stats", "", "toggle the per-response stats line"},
	{"/clear", "", "clear the conversation"},
	{"/export", "[file]", "export the conversation (.md or .json)"},
	{"/import", "<file>", "replace the conversation with a Markdown export"},
	{"/save", "", "save the conversation to the archive"},
	{"/history", "[query]", "list or search archived conversations"},
	{"/open", "<id>", "open an archived conversation"},
	{"/status", "", "show connection, settings and session totals"},
	{"/quit", "", "exit"},
}

// completeSlash is the liner completer.
func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c.Name, line) {
			out = append(out, c.Name+" ")
		}
	}
	return out
}

// handleSlash runs one slash command and reports whether the REPL should exit.
func (s *chatSession) handleSlash(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		s.printHelp()
	case "/connect":
		return false, s.cmdConnect(ctx, rest)
	case "/key":
		return false, s.cmdKey(ctx)
	case "/disconnect":
		s.ctrl.Disconnect()
		s.savedID = ""
		fmt.Fprintln(s.out, RenderStatus("disconnected"))
	case "/models":
		return false, s.cmdModels(ctx)
	case "/model":
		return false, s.cmdModel(rest)
	case "/load":
		return false, s.cmdModelAction(ctx, "load", rest)
	case "/unload":
		return false, s.cmdModelAction(ctx, "unload", rest)
	case "/set":
		return false, s.cmdSet(rest)
	case "/reset":
		s.ctrl.ResetModelSettings()
		fmt.Fprintln(s.out, SuccessStyle.Render("Model settings reset to defaults."))
	case "/system":
		return false, s.cmdSystem(rest)
	case "/think":
		on := s.ctrl.ToggleShowThinking()
		s.saveUI()
		fmt.Fprintln(s.out, "Reasoning display "+onOff(on))
	case "/stats":
		on := s.ctrl.ToggleShowStats()
		s.saveUI()
		fmt.Fprintln(s.out, "Stats line "+onOff(on))
	case "/clear":
		if err := s.ctrl.ClearMessages(); err != nil {
			return false, err
		}
		s.savedID = ""
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared."))
	case "/export":
		return false, s.cmdExport(rest)
	case "/import":
		return false, s.cmdImport(rest)
	case "/save":
		return false, s.cmdSave(ctx)
	case "/history":
		return false, s.cmdHistory(ctx, rest)
	case "/open":
		return false, s.cmdOpen(ctx, rest)
	case "/status":
		s.printStatus()
	default:
		return false, &UsageError{Arg: "command", Reason: fmt.Sprintf("unknown command %s", name), Example: "/help"}
	}
	return false, nil
}

// =============================================================================
// CONNECTION COMMANDS
// =============================================================================

func (s *chatSession) cmdConnect(ctx context.Context, url string) error {
	if url == "" {
		s.connect(ctx)
		return nil
	}
	s.connectTo(ctx, url, s.ctrl.State().Server.APIKey)
	return nil
}

func (s *chatSession) cmdKey(ctx context.Context) error {
	key, err := ReadSecret("API key (empty to clear): ")
	if err != nil {
		return err
	}
	if st := s.ctrl.State(); st.Connected {
		s.connectTo(ctx, st.Server.URL, key)
		return nil
	}
	s.ctrl.UpdateAPIKey(key)
	fmt.Fprintln(s.out, DimStyle.Render("Key set; it is used on the next /connect."))
	return nil
}

func (s *chatSession) cmdModels(ctx context.Context) error {
	st := s.ctrl.State()
	if !st.Connected {
		return errNotConnected
	}
	if err := s.ctrl.FetchModels(ctx); err != nil {
		s.ctrl.ClearError()
		return err
	}
	st = s.ctrl.State()

	var extended []api.ServerModel
	if st.ManagementSupported {
		// The plain listing is still useful when the extended one fails.
		extended, _ = s.ctrl.ListServerModels(ctx)
	}
	fmt.Fprintln(s.out, formatModelTable(st.Models, extended, st.Server.SelectedModel))
	return nil
}

func (s *chatSession) cmdModel(id string) error {
	if id == "" {
		return ErrMissingArgument("model id", "/model qwen3-8b")
	}
	if err := s.ctrl.SelectModel(id); err != nil {
		return err
	}
	st := s.ctrl.State()
	known := len(st.Models) == 0
	for _, m := range st.Models {
		if m.ID == id {
			known = true
			break
		}
	}
	fmt.Fprintln(s.out, RenderField("Model", id))
	if !known {
		fmt.Fprintln(s.out, WarningStyle.Render("The server did not list this model."))
	}
	return nil
}

func (s *chatSession) cmdModelAction(ctx context.Context, action, id string) error {
	if id == "" {
		id = s.ctrl.State().Server.SelectedModel
	}
	if id == "" {
		return ErrMissingArgument("model id", "/"+action+" qwen3-8b")
	}
	fmt.Fprintln(s.out, DimStyle.Render(strings.ToUpper(action[:1])+action[1:]+"ing "+id+" ..."))

	var err error
	if action == "load" {
		err = s.ctrl.LoadModel(ctx, id)
	} else {
		err = s.ctrl.UnloadModel(ctx, id)
	}
	if err != nil {
		if msg := s.ctrl.State().Error; msg != "" {
			s.ctrl.ClearError()
			return errors.New(msg)
		}
		return err
	}
	fmt.Fprintf(s.out, "%s %sed %s\n", RenderStatus("ok"), action, id)
	return nil
}

var errNotConnected = errors.New("not connected; use /connect first")

// =============================================================================
// SETTINGS COMMANDS
// =============================================================================

func (s *chatSession) cmdSet(args string) error {
	if args == "" {
		s.printSettings(s.ctrl.State().Settings)
		return nil
	}
	key, value, ok := strings.Cut(args, " ")
	if !ok {
		return &UsageError{Arg: "setting", Reason: "expected a key and a value", Example: "/set temperature 0.4"}
	}
	key = strings.ReplaceAll(strings.ToLower(key), "-", "_")
	if err := s.ctrl.SetSetting(key, strings.TrimSpace(value)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s = %s\n", RenderStatus("ok"), key, settingValue(s.ctrl.State().Settings, key))
	return nil
}

func (s *chatSession) cmdSystem(prompt string) error {
	if prompt == "" {
		current := s.ctrl.State().Settings.SystemPrompt
		if current == "" {
			fmt.Fprintln(s.out, DimStyle.Render("(no system prompt)"))
		} else {
			fmt.Fprintln(s.out, current)
		}
		return nil
	}
	if prompt == "-" {
		prompt = ""
	}
	if err := s.ctrl.SetSystemPrompt(prompt); err != nil {
		return err
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("System prompt updated."))
	return nil
}

func (s *chatSession) saveUI() {
	st := s.ctrl.State()
	if err := s.persister.SaveUI(st.ShowThinking, st.ShowStats); err != nil {
		fmt.Fprintf(s.out, "%s could not save settings: %v\n", WarningStyle.Render("[WARN]"), err)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// settingValue formats one field of s by its key.
func settingValue(s model.ModelSettings, key string) string {
	switch key {
	case "temperature":
		return strconv.FormatFloat(s.Temperature, 'g', -1, 64)
	case "max_tokens":
		return strconv.Itoa(s.MaxTokens)
	case "top_p":
		return strconv.FormatFloat(s.TopP, 'g', -1, 64)
	case "frequency_penalty":
		return strconv.FormatFloat(s.FrequencyPenalty, 'g', -1, 64)
	case "presence_penalty":
		return strconv.FormatFloat(s.PresencePenalty, 'g', -1, 64)
	case "reasoning_effort":
		return string(s.ReasoningEffort)
	case "streaming":
		return strconv.FormatBool(s.Streaming)
	case "system_prompt":
		if s.SystemPrompt == "" {
			return "(none)"
		}
		return strconv.Quote(s.SystemPrompt)
	}
	return ""
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func (s *chatSession) cmdExport(path string) error {
	opts := &export.Options{OutputDir: ".", IncludeStats: s.ctrl.State().ShowStats}
	doc := s.ctrl.Document()
	if len(doc.Messages) == 0 {
		return export.ErrNoMessages
	}

	if path == "" {
		written, err := export.WriteFile(doc, export.NewMarkdownExporter(opts), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s exported to %s\n", RenderStatus("ok"), written)
		return nil
	}

	var exporter export.Exporter = export.NewMarkdownExporter(opts)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		exporter = export.NewJSONExporter()
	}
	content, err := exporter.Export(doc)
	if err != nil {
		return err
	}
	if err := export.WriteTo(path, content); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s exported to %s\n", RenderStatus("ok"), path)
	return nil
}

func (s *chatSession) cmdImport(path string) error {
	if path == "" {
		return ErrMissingArgument("file", "/import chat.md")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.ctrl.ImportMarkdown(f); err != nil {
		s.ctrl.ClearError()
		return fmt.Errorf("failed to import: %w", err)
	}
	s.savedID = ""
	st := s.ctrl.State()
	fmt.Fprintf(s.out, "%s imported %d messages\n", RenderStatus("ok"), len(st.Messages))
	printTranscript(s.out, st.Messages, st.ShowThinking)
	return nil
}

func (s *chatSession) cmdSave(ctx context.Context) error {
	if s.archive == nil {
		return errors.New("conversation archive is unavailable")
	}
	st := s.ctrl.State()
	if st.IsStreaming() {
		return errors.New("wait for the response to finish")
	}
	if len(st.Messages) == 0 {
		return export.ErrNoMessages
	}
	id, err := s.archive.Save(ctx, &storage.Conversation{
		ID:       s.savedID,
		Model:    st.Server.SelectedModel,
		Stats:    st.Stats,
		Messages: st.Messages,
	})
	if err != nil {
		return err
	}
	s.savedID = id
	fmt.Fprintf(s.out, "%s saved as %s\n", RenderStatus("ok"), HighlightStyle.Render(storage.ConversationMeta{ID: id}.ShortID()))
	return nil
}

func (s *chatSession) cmdHistory(ctx context.Context, query string) error {
	if s.archive == nil {
		return errors.New("conversation archive is unavailable")
	}
	metas, err := s.archive.Search(ctx, query, 20)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, storage.FormatList(metas))
	return nil
}

func (s *chatSession) cmdOpen(ctx context.Context, id string) error {
	if s.archive == nil {
		return errors.New("conversation archive is unavailable")
	}
	if id == "" {
		return ErrMissingArgument("id", "/open 1a2b3c4d")
	}
	conv, err := s.archive.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ctrl.ReplaceMessages(conv.Messages); err != nil {
		return err
	}
	s.savedID = conv.ID

	st := s.ctrl.State()
	fmt.Fprintf(s.out, "%s %s (%d messages)\n", RenderStatus("ok"), conv.Summary, len(conv.Messages))
	printTranscript(s.out, st.Messages, st.ShowThinking)
	if conv.Model != "" && conv.Model != st.Server.SelectedModel {
		fmt.Fprintln(s.out, DimStyle.Render("Saved with model "+conv.Model+"; use /model to switch."))
	}
	return nil
}

// =============================================================================
// INFORMATION
// =============================================================================

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, SectionStyle.Render("Commands"))
	for _, c := range slashCommands {
		usage := c.Name
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Fprintf(s.out, "  %s %s\n", HighlightStyle.Render(util.PadRight(usage, 22)), c.Help)
	}
	fmt.Fprintln(s.out, DimStyle.Render("  Settings for /set: "+strings.Join(model.SettingKeys, ", ")))
}

func (s *chatSession) printSettings(m model.ModelSettings) {
	fmt.Fprintln(s.out, SectionStyle.Render("Model settings"))
	for _, k := range model.SettingKeys {
		fmt.Fprintln(s.out, RenderField(k, settingValue(m, k)))
	}
}

func (s *chatSession) printStatus() {
	st := s.ctrl.State()

	fmt.Fprintln(s.out, SectionStyle.Render("Connection"))
	switch {
	case st.Connected:
		fmt.Fprintln(s.out, RenderField("Server", st.Server.URL+" "+RenderStatus("connected")))
	case st.Connecting:
		fmt.Fprintln(s.out, RenderField("Server", st.Server.URL+" "+RenderStatus("connecting")))
	default:
		fmt.Fprintln(s.out, RenderField("Server", orDash(st.Server.URL)+" "+RenderStatus("disconnected")))
	}
	if st.ConnectionError != "" {
		fmt.Fprintln(s.out, RenderField("Last error", st.ConnectionError))
	}
	ping := "-"
	if st.PingLatency > 0 {
		ping = st.PingLatency.Round(time.Millisecond).String()
	}
	fmt.Fprintln(s.out, RenderField("Ping", ping))
	fmt.Fprintln(s.out, RenderField("TLS", yesNo(st.Secure)))
	fmt.Fprintln(s.out, RenderField("API key", yesNo(st.Server.HasAPIKey())))
	fmt.Fprintln(s.out, RenderField("Model", orDash(st.Server.SelectedModel)))
	fmt.Fprintln(s.out, RenderField("Models listed", strconv.Itoa(len(st.Models))))
	fmt.Fprintln(s.out, RenderField("Management", yesNo(st.ManagementSupported)))

	s.printSettings(st.Settings)

	t := s.totals.Snapshot()
	fmt.Fprintln(s.out, SectionStyle.Render("Session"))
	fmt.Fprintln(s.out, RenderField("Messages", strconv.Itoa(len(st.Messages))))
	fmt.Fprintln(s.out, RenderField("Responses", strconv.Itoa(t.Responses)))
	fmt.Fprintln(s.out, RenderField("Tokens", fmt.Sprintf("%d prompt / %d completion", t.PromptTokens, t.CompletionTokens)))
	fmt.Fprintln(s.out, RenderField("Avg speed", fmt.Sprintf("%.1f tok/s", t.AvgTokensPerSecond)))
	fmt.Fprintln(s.out, RenderField("Errors", strconv.Itoa(t.Errors)))
	fmt.Fprintln(s.out, RenderField("Uptime", s.totals.Duration().Round(time.Second).String()))
	for _, m := range t.Models {
		fmt.Fprintln(s.out, RenderField("  "+util.TruncateWidth(m.Model, 14), fmt.Sprintf("%d responses, %d tokens", m.Responses, m.CompletionTokens)))
	}
	if !st.Stats.IsZero() {
		fmt.Fprintln(s.out, RenderField("Last response", st.Stats.Format()))
	}
	if s.savedID != "" {
		fmt.Fprintln(s.out, RenderField("Archived as", storage.ConversationMeta{ID: s.savedID}.ShortID()))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
