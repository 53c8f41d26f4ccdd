// hexai - A terminal chat client for self-hosted OpenAI-compatible servers.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/cjct-dev/HexAI/internal/cli"

func main() {
	cli.Execute()
}
