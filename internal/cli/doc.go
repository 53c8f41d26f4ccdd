// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the hexai command line: an interactive chat REPL
// and one-shot commands for server and configuration management.
//
// # Usage
//
//	hexai                        # same as "hexai chat"
//	hexai chat --url 192.168.1.20:8080
//	hexai models
//	hexai health
//	hexai load qwen3-8b
//	hexai export --format json
//	hexai config set model.temperature 0.4
//
// # Commands Overview
//
// Chat:
//   - chat: interactive session with slash commands (/help lists them)
//
// Server:
//   - models, health, load, unload
//
// Conversations:
//   - import, export, history
//
// Settings:
//   - config show|path|get|set|keys
//
// Global flags --url, --api-key and --model override the config file for
// one run; changes made inside the REPL are saved back to it.
package cli
