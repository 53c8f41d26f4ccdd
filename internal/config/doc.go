// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists the hexai settings file.
//
// The file is TOML at ~/.hexai/config.toml (HEXAI_CONFIG or --config
// override it). Absent keys take the built-in defaults.
//
// # Configuration Precedence
//
//   - Environment variables (HEXAI_*)
//   - ~/.hexai/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	settings := cfg.ModelSettings()
//
// Session changes are written back through a FilePersister, and Watch
// picks up edits made outside the program.
package config
