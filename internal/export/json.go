// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

const (
	jsonFormatName    = "hexai-chat"
	jsonFormatVersion = 1
)

// jsonDocument tags the document so other tools can recognise the file.
type jsonDocument struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	*Document
}

// JSONExporter writes the document, stats included, as indented JSON.
type JSONExporter struct{}

func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

func (e *JSONExporter) Export(doc *Document) ([]byte, error) {
	if doc == nil || len(doc.Messages) == 0 {
		return nil, ErrNoMessages
	}
	out, err := json.MarshalIndent(jsonDocument{
		Format:   jsonFormatName,
		Version:  jsonFormatVersion,
		Document: doc,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	return append(out, '\n'), nil
}

func (e *JSONExporter) FileExtension() string { return ".json" }

func (e *JSONExporter) MimeType() string { return "application/json" }
