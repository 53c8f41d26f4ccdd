// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export converts conversations to and from files.
//
// # Formats
//
//   - Markdown: one "## Role" section per message separated by "---" rules,
//     with reasoning content in a collapsible <details> block. ParseMarkdown
//     is the structural inverse.
//   - JSON: messages plus the latest inference stats, for tooling.
//
// # Usage
//
//	doc := export.NewDocument(messages, "qwen", stats)
//	path, err := export.WriteFile(doc, export.NewMarkdownExporter(nil), nil)
//
//	msgs, err := export.ParseMarkdown(f)
package export
