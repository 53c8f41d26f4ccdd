// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the hexai packages.
//
// File Operations:
//   - AtomicWriteFile: crash-safe writes for config files and exports
//
// Terminal Text:
//   - TruncateWidth, StringWidth, PadRight: column-aware layout via go-runewidth
//   - TruncateRunes, OneLine: previews and single-line summaries
//
// # Usage
//
//	// Fit a model id into a 24 column table cell
//	cell := util.PadRight(util.TruncateWidth(id, 24), 24)
//
//	// Write a config file atomically
//	err := util.AtomicWriteFile(path, data, 0600)
package util
