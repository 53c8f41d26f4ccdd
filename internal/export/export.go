// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/util"
)

// ErrNoMessages is returned when there is nothing to export, or when an
// import yields no valid message section.
var ErrNoMessages = errors.New("conversation has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Document is the unit of export: a conversation plus context.
type Document struct {
	Messages   []model.Message      `json:"messages"`
	Model      string               `json:"model,omitempty"`
	Stats      model.InferenceStats `json:"stats"`
	ExportedAt time.Time            `json:"exported_at"`
}

// NewDocument stamps a document with the current time.
func NewDocument(msgs []model.Message, modelID string, stats model.InferenceStats) *Document {
	return &Document{
		Messages:   msgs,
		Model:      modelID,
		Stats:      stats,
		ExportedAt: time.Now(),
	}
}

// summary returns a short title for filenames.
func (d *Document) summary() string {
	for i := range d.Messages {
		if d.Messages[i].Role == model.RoleUser {
			return d.Messages[i].Preview(40)
		}
	}
	return "chat"
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures file export.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeStats appends the last inference stats line (Markdown only).
	IncludeStats bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{OutputDir: "."}
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

// WriteFile exports doc with exporter into a generated, timestamped filename
// under opts.OutputDir and returns the path. The write is atomic.
func WriteFile(doc *Document, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("hexai_%s_%s%s",
		sanitizeFilename(doc.summary()),
		doc.ExportedAt.Format("20060102_150405"),
		exporter.FileExtension(),
	)
	path := filepath.Join(opts.OutputDir, filename)
	if err := WriteTo(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTo writes exported content to an explicit path.
func WriteTo(path string, content []byte) error {
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 40
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || r == '.':
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "chat"
	}
	return string(result)
}
