// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives conversations in a local SQLite database
// (~/.hexai/history.db) using the pure Go modernc.org/sqlite driver.
//
// # Usage
//
//	store, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	id, err := store.Save(ctx, &storage.Conversation{Messages: msgs, Model: "qwen"})
//	conv, err := store.Load(ctx, id[:8]) // unique prefixes are accepted
package storage
