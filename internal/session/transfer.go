// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"io"

	"github.com/rs/zerolog/log"

	"github.com/cjct-dev/HexAI/internal/export"
	"github.com/cjct-dev/HexAI/internal/model"
)

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// Document returns the conversation for export.
func (c *Controller) Document() *export.Document {
	st := c.State()
	return export.NewDocument(st.Messages, st.Server.SelectedModel, st.Stats)
}

// ExportMarkdown renders the conversation as Markdown.
func (c *Controller) ExportMarkdown(opts *export.Options) ([]byte, error) {
	return export.NewMarkdownExporter(opts).Export(c.Document())
}

// ImportMarkdown replaces the conversation with a parsed Markdown export.
// The conversation is untouched unless at least one message is parsed.
func (c *Controller) ImportMarkdown(r io.Reader) error {
	msgs, err := export.ParseMarkdown(r)
	if err != nil {
		c.update(func() { c.st.Error = "Failed to import: " + err.Error() })
		return err
	}
	return c.ReplaceMessages(msgs)
}

// ReplaceMessages swaps in a whole conversation atomically.
func (c *Controller) ReplaceMessages(msgs []model.Message) error {
	if len(msgs) == 0 {
		return export.ErrNoMessages
	}
	var err error
	c.update(func() {
		if c.st.Phase != PhaseIdle {
			err = ErrStreaming
			return
		}
		c.conv.Replace(msgs)
		c.st.Stats = model.InferenceStats{}
	})
	if err == nil {
		log.Info().Int("messages", len(msgs)).Msg("conversation replaced")
	}
	return err
}
