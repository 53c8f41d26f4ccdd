// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Transcript, model table and live streaming output.

package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/session"
	"github.com/cjct-dev/HexAI/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders content for the terminal. It returns content
// unchanged when colors are off or the renderer is unavailable.
func renderMarkdown(content string) string {
	if !ColorsEnabled() {
		return content
	}
	markdownRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()-4),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// printMessage prints one finalized message.
func printMessage(w io.Writer, msg model.Message, showThinking bool) {
	switch msg.Role {
	case model.RoleUser:
		fmt.Fprintf(w, "%s %s\n", UserLabelStyle.Render("you>"), msg.Content)
	case model.RoleSystem:
		fmt.Fprintln(w, DimStyle.Render("[system] "+util.OneLine(msg.Content)))
	default:
		if showThinking && msg.Thinking != "" {
			fmt.Fprintln(w, DimStyle.Render(strings.TrimSpace(msg.Thinking)))
			fmt.Fprintln(w)
		}
		if msg.Content == "" {
			fmt.Fprintln(w, DimStyle.Render("(empty response)"))
			return
		}
		fmt.Fprint(w, ensureNewline(renderMarkdown(msg.Content)))
	}
}

// printTranscript prints a whole conversation, e.g. after /open or /import.
func printTranscript(w io.Writer, msgs []model.Message, showThinking bool) {
	for _, m := range msgs {
		printMessage(w, m, showThinking)
	}
}

// formatStats renders the per-response stats line.
func formatStats(stats model.InferenceStats) string {
	if stats.IsZero() {
		return ""
	}
	return StatsStyle.Render(stats.Format())
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// =============================================================================
// MODEL TABLE
// =============================================================================

const modelIDWidth = 48

// formatModelTable lists models with the selected one marked. Status columns
// come from the extended listing when the server provides one.
func formatModelTable(models []api.ModelInfo, extended []api.ServerModel, selected string) string {
	if len(models) == 0 && len(extended) == 0 {
		return "No models available."
	}

	status := make(map[string]string, len(extended))
	ids := make([]string, 0, len(models))
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if !seen[m.ID] {
			ids = append(ids, m.ID)
			seen[m.ID] = true
		}
	}
	for _, m := range extended {
		status[m.ID] = m.StatusText()
		if !seen[m.ID] {
			ids = append(ids, m.ID)
			seen[m.ID] = true
		}
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(util.PadRight("MODEL", modelIDWidth+2))
	if len(extended) > 0 {
		sb.WriteString("STATUS")
	}
	sb.WriteString("\n")
	for _, id := range ids {
		marker := "  "
		if id == selected {
			marker = HighlightStyle.Render("*") + " "
		}
		sb.WriteString(marker)
		sb.WriteString(util.PadRight(util.TruncateWidth(id, modelIDWidth), modelIDWidth+2))
		if len(extended) > 0 {
			sb.WriteString(RenderStatus(status[id]))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// LIVE STREAM VIEW
// =============================================================================

// liveView prints streaming deltas as they arrive. On a terminal, finish
// erases the raw text and prints the Markdown-rendered message instead.
// update runs on whichever goroutine mutated the session, so it locks.
type liveView struct {
	mu     sync.Mutex
	out    *termenv.Output
	redraw bool
	width  int

	msgID     string
	thinkingN int
	contentN  int
	printed   strings.Builder
}

func newLiveView(w io.Writer, redraw bool, width int) *liveView {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	return &liveView{
		out:    termenv.NewOutput(w, termenv.WithProfile(GetColorProfile())),
		redraw: redraw,
		width:  width,
	}
}

// update prints whatever the streaming message gained since the last call.
func (v *liveView) update(st session.State) {
	msg, ok := st.StreamingMessage()
	if !ok {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if msg.ID != v.msgID {
		v.resetLocked()
		v.msgID = msg.ID
	}

	if st.ShowThinking && len(msg.Thinking) > v.thinkingN {
		delta := msg.Thinking[v.thinkingN:]
		v.thinkingN = len(msg.Thinking)
		v.writeLocked(delta, true)
	}
	if len(msg.Content) > v.contentN {
		delta := msg.Content[v.contentN:]
		if v.contentN == 0 && v.thinkingN > 0 {
			v.writeLocked("\n\n", false)
		}
		v.contentN = len(msg.Content)
		v.writeLocked(delta, false)
	}
}

// finish replaces the raw stream with the final rendering of msg.
func (v *liveView) finish(msg model.Message, showThinking bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.printed.Len() == 0 {
		printMessage(v.out, msg, showThinking)
	} else if v.redraw {
		v.out.ClearLines(v.rowsLocked() - 1)
		fmt.Fprint(v.out, "\r")
		printMessage(v.out, msg, showThinking)
	} else if !strings.HasSuffix(v.printed.String(), "\n") {
		fmt.Fprintln(v.out)
	}
	v.resetLocked()
}

func (v *liveView) writeLocked(s string, faint bool) {
	v.printed.WriteString(s)
	if faint {
		fmt.Fprint(v.out, v.out.String(s).Faint())
		return
	}
	fmt.Fprint(v.out, s)
}

// rowsLocked counts terminal rows taken by the raw text, wrapping included.
func (v *liveView) rowsLocked() int {
	rows := 0
	for _, line := range strings.Split(v.printed.String(), "\n") {
		w := util.StringWidth(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + v.width - 1) / v.width
	}
	return rows
}

func (v *liveView) resetLocked() {
	v.msgID = ""
	v.thinkingN = 0
	v.contentN = 0
	v.printed.Reset()
}
