// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/cjct-dev/HexAI/internal/model"
)

const (
	markdownTitle  = "# HexAI Chat Export"
	exportedLayout = "2006-01-02 15:04:05"
	sectionRule    = "---"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
	title   cases.Caser
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, title: cases.Title(language.English)}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(doc *Document) ([]byte, error) {
	if doc == nil || len(doc.Messages) == 0 {
		return nil, ErrNoMessages
	}

	var sb strings.Builder
	sb.WriteString(markdownTitle + "\n\n")
	fmt.Fprintf(&sb, "*Exported: %s*\n\n", doc.ExportedAt.Format(exportedLayout))

	for i := range doc.Messages {
		msg := &doc.Messages[i]
		sb.WriteString(sectionRule + "\n\n")
		fmt.Fprintf(&sb, "## %s\n\n", e.roleLabel(msg.Role))
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if thinking := msg.DisplayThinking(); strings.TrimSpace(thinking) != "" {
			sb.WriteString("<details>\n<summary>Thinking</summary>\n\n")
			sb.WriteString(thinking)
			sb.WriteString("\n\n</details>\n\n")
		}
	}

	if e.options.IncludeStats && !doc.Stats.IsZero() {
		fmt.Fprintf(&sb, "%s\n\n<sub>%s</sub>\n", sectionRule, doc.Stats.Format())
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// roleLabel returns the capitalized role name used in section headers.
func (e *MarkdownExporter) roleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return e.title.String(string(role))
}

// =============================================================================
// MARKDOWN IMPORT
// =============================================================================

var (
	roleHeader    = regexp.MustCompile(`^##\s+(User|Assistant|System)\b`)
	thinkingBlock = regexp.MustCompile(`(?s)<details>\s*<summary>Thinking</summary>(.*?)</details>`)
)

// ParseMarkdown reads an export produced by MarkdownExporter.
//
// Sections are delimited by lines consisting of "---". A section becomes a
// message when it contains a "## User|Assistant|System" header and a
// non-empty body once the thinking block is removed. Text is normalized to
// NFC. Returns ErrNoMessages when no section qualifies.
func ParseMarkdown(r io.Reader) ([]model.Message, error) {
	sections, err := splitSections(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}

	var msgs []model.Message
	for _, section := range sections {
		if msg, ok := parseSection(section); ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	return msgs, nil
}

// splitSections splits on "---" rule lines.
func splitSections(r io.Reader) ([][]string, error) {
	scanner := bufio.NewScanner(norm.NFC.Reader(r))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		sections [][]string
		current  []string
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == sectionRule {
			sections = append(sections, current)
			current = nil
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return append(sections, current), nil
}

func parseSection(lines []string) (model.Message, bool) {
	for i, line := range lines {
		m := roleHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		role, ok := model.ParseRole(m[1])
		if !ok {
			return model.Message{}, false
		}

		body := strings.Join(lines[i+1:], "\n")
		var thinking string
		if loc := thinkingBlock.FindStringSubmatchIndex(body); loc != nil {
			thinking = strings.TrimSpace(body[loc[2]:loc[3]])
			body = body[:loc[0]] + body[loc[1]:]
		}
		body = strings.TrimSpace(body)
		if body == "" {
			return model.Message{}, false
		}

		msg := model.NewMessage(role, body)
		msg.Thinking = thinking
		return msg.Snapshot(), true
	}
	return model.Message{}, false
}
