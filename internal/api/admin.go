// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// =============================================================================
// MODEL LISTING
// =============================================================================

// ListModels calls GET /v1/models and returns the entries sorted by id.
// This is also the connection test used during protocol resolution.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out ModelsResponse
	if err := c.getJSON(ctx, c.bulkClient, "/v1/models", &out); err != nil {
		return nil, err
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].ID < out.Data[j].ID })
	return out.Data, nil
}

// ListServerModels calls the router's extended GET /models listing.
func (c *Client) ListServerModels(ctx context.Context) ([]ServerModel, error) {
	var out ServerModelsResponse
	if err := c.getJSON(ctx, c.adminClient, "/models", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health calls GET /health and returns the client-measured round trip.
// Any 2xx status is healthy.
func (c *Client) Health(ctx context.Context) (time.Duration, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	resp, err := c.adminClient.Do(req)
	if err != nil {
		return 0, transportError(ctx, err)
	}
	latency := time.Since(started)
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, httpStatusError(resp.StatusCode, readErrorBody(resp.Body))
	}
	return latency, nil
}

// =============================================================================
// MODEL MANAGEMENT
// =============================================================================

// LoadModel asks the router to load a model.
func (c *Client) LoadModel(ctx context.Context, modelID string) error {
	return c.modelAction(ctx, "/models/load", modelID)
}

// UnloadModel asks the router to unload a model.
func (c *Client) UnloadModel(ctx context.Context, modelID string) error {
	return c.modelAction(ctx, "/models/unload", modelID)
}

func (c *Client) modelAction(ctx context.Context, path, modelID string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, modelActionRequest{Model: modelID})
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.adminClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	logResponse(req, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpStatusError(resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

// getJSON performs a GET and decodes a JSON body.
func (c *Client) getJSON(ctx context.Context, hc *http.Client, path string, out any) error {
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	logResponse(req, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpStatusError(resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return transportError(ctx, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}
