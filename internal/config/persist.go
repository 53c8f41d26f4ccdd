// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"sync"

	"github.com/cjct-dev/HexAI/internal/model"
)

// FilePersister writes session settings changes back to a config file.
// It satisfies session.Persister.
type FilePersister struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// NewFilePersister persists into path, starting from cfg.
func NewFilePersister(path string, cfg *Config) *FilePersister {
	return &FilePersister{path: path, cfg: cfg.Clone()}
}

// SaveServer stores the [server] table.
func (p *FilePersister) SaveServer(s model.ServerConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SetServerConfig(s)
	return Save(p.cfg, p.path)
}

// SaveModelSettings stores the [model] table.
func (p *FilePersister) SaveModelSettings(s model.ModelSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SetModelSettings(s)
	return Save(p.cfg, p.path)
}

// SaveUI stores the [ui] table.
func (p *FilePersister) SaveUI(showThinking, showStats bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.UI = UIConfig{ShowThinking: showThinking, ShowStats: showStats}
	return Save(p.cfg, p.path)
}

// Config returns a copy of the last persisted configuration.
func (p *FilePersister) Config() *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Clone()
}
