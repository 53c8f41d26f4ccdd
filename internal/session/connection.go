// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/probe"
)

// =============================================================================
// CONNECT / DISCONNECT
// =============================================================================

// Connect resolves the configured server address, then fetches the model
// list and probes management support concurrently, then starts the health
// loop. Failures are reported on State.ConnectionError and leave the
// conversation untouched.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	server := c.st.Server
	if strings.TrimSpace(server.URL) == "" {
		c.st.ConnectionError = probe.ErrBlankURL.Error()
		return c.rejectLocked(probe.ErrBlankURL)
	}
	c.st.Connecting = true
	c.st.ConnectionError = ""
	c.publishLocked()
	c.mu.Unlock()
	c.store.notify()

	res, err := c.resolver.Resolve(ctx, server.URL, server.APIKey)
	if err != nil {
		log.Warn().Err(err).Str("url", server.URL).Msg("connection failed")
		c.update(func() {
			c.st.Connecting = false
			c.st.ConnectionError = "Connection failed: " + userMessage(err)
		})
		return err
	}

	cfg := c.clientConfig
	cfg.BaseURL = res.URL
	cfg.APIKey = strings.TrimSpace(server.APIKey)
	client := api.NewClientWithConfig(&cfg)

	var resolved model.ServerConfig
	c.update(func() {
		c.client = client
		c.st.Server.URL = res.URL
		c.st.Secure = res.Secure
		c.st.Connected = true
		c.st.Connecting = false
		resolved = c.st.Server
	})
	c.persistServer(resolved)

	log.Info().
		Str("url", res.URL).
		Bool("secure", res.Secure).
		Str("key", client.KeyFingerprint()).
		Msg("connected")

	var g errgroup.Group
	g.Go(func() error {
		return c.FetchModels(ctx)
	})
	g.Go(func() error {
		supported := probe.ProbeCapability(ctx, client)
		c.update(func() {
			if c.client == client {
				c.st.ManagementSupported = supported
			}
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("model listing failed after connect")
	}

	c.startHealthLoop(client)
	return nil
}

// ConnectTo sets the server address and key, then connects.
func (c *Controller) ConnectTo(ctx context.Context, rawURL, apiKey string) error {
	c.UpdateServerURL(rawURL)
	c.UpdateAPIKey(apiKey)
	return c.Connect(ctx)
}

// Disconnect stops the health loop and any stream, then clears connection
// state, the model list, the selection and the conversation.
func (c *Controller) Disconnect() {
	c.health.cancel()
	c.CancelStreaming()

	c.update(func() {
		c.client = nil
		c.st.Connected = false
		c.st.Connecting = false
		c.st.Secure = false
		c.st.Models = nil
		c.st.PingLatency = 0
		c.st.ManagementSupported = false
		c.st.Server.SelectedModel = ""
		c.st.Stats = model.InferenceStats{}
		c.conv.Clear()
	})
	log.Info().Msg("disconnected")
}

// startHealthLoop replaces any running loop with one bound to client.
func (c *Controller) startHealthLoop(client *api.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	c.health.set(cancel)

	go probe.HealthLoop(ctx, client, c.healthInterval, func(latency time.Duration, err error) {
		c.update(func() {
			if c.client != client {
				return
			}
			if err != nil {
				c.st.PingLatency = 0
				return
			}
			c.st.PingLatency = latency
		})
		if err == nil {
			c.recorder.ObserveHealth(latency)
		} else {
			log.Debug().Err(err).Msg("health probe failed")
		}
	})
}

// currentClient returns the connected client or ErrNotConnected.
func (c *Controller) currentClient() (*api.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// =============================================================================
// MODELS
// =============================================================================

// FetchModels refreshes the model list. A saved selection is kept; with no
// selection the first model is chosen.
func (c *Controller) FetchModels(ctx context.Context) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}

	c.update(func() { c.st.LoadingModels = true })
	models, err := client.ListModels(ctx)
	if err != nil {
		c.update(func() {
			c.st.LoadingModels = false
			if ctx.Err() == nil {
				c.st.Error = "Failed to fetch models: " + userMessage(err)
			}
		})
		return err
	}

	c.update(func() {
		c.st.LoadingModels = false
		if c.client != client {
			return
		}
		c.st.Models = models
		if !c.st.Server.HasModel() && len(models) > 0 {
			c.st.Server.SelectedModel = models[0].ID
		}
	})
	log.Debug().Int("count", len(models)).Msg("models fetched")
	return nil
}

// SelectModel sets and persists the selected model.
func (c *Controller) SelectModel(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNoModel
	}
	var server model.ServerConfig
	c.update(func() {
		c.st.Server.SelectedModel = id
		server = c.st.Server
	})
	c.persistServer(server)
	return nil
}

// ListServerModels returns the router's extended model listing.
func (c *Controller) ListServerModels(ctx context.Context) ([]api.ServerModel, error) {
	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}
	return client.ListServerModels(ctx)
}

// LoadModel asks the router to load a model, then refreshes the list.
func (c *Controller) LoadModel(ctx context.Context, id string) error {
	return c.modelAction(ctx, id, "load")
}

// UnloadModel asks the router to unload a model, then refreshes the list.
func (c *Controller) UnloadModel(ctx context.Context, id string) error {
	return c.modelAction(ctx, id, "unload")
}

func (c *Controller) modelAction(ctx context.Context, id, action string) error {
	c.mu.Lock()
	client, supported := c.client, c.st.ManagementSupported
	c.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	if !supported {
		return ErrManagementUnsupported
	}
	if err := c.actions.Wait(ctx); err != nil {
		return err
	}

	c.update(func() { c.st.LoadingModel = true })

	var err error
	if action == "load" {
		err = client.LoadModel(ctx, id)
	} else {
		err = client.UnloadModel(ctx, id)
	}

	if err != nil {
		c.update(func() {
			c.st.LoadingModel = false
			c.st.Error = fmt.Sprintf("Failed to %s model: %s", action, userMessage(err))
		})
		return err
	}

	c.update(func() { c.st.LoadingModel = false })
	log.Info().Str("model", id).Str("action", action).Msg("model management request completed")
	return c.FetchModels(ctx)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (c *Controller) persistServer(server model.ServerConfig) {
	if c.persister == nil {
		return
	}
	if err := c.persister.SaveServer(server); err != nil {
		log.Warn().Err(err).Msg("failed to save server settings")
	}
}

func (c *Controller) persistSettings(settings model.ModelSettings) {
	if c.persister == nil {
		return
	}
	if err := c.persister.SaveModelSettings(settings); err != nil {
		log.Warn().Err(err).Msg("failed to save model settings")
	}
}
