// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListModels_SortedByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"qwen"},{"id":"llama"},{"id":"gemma"}]}`)
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL, "k").ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, []string{"gemma", "llama", "qwen"}, []string{models[0].ID, models[1].ID, models[2].ID})
}

func TestListModels_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").ListModels(context.Background())
	code, ok := IsHTTPStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestListServerModels_StatusShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[
			{"id":"a","status":"loaded"},
			{"id":"b","status":{"value":"unloaded"},"in_cache":true},
			{"id":"c"},
			{"id":"d","status":null}
		]}`)
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL, "").ListServerModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 4)

	assert.True(t, models[0].HasStatus())
	assert.Equal(t, "loaded", models[0].StatusText())
	assert.True(t, models[1].HasStatus())
	assert.Equal(t, "unloaded", models[1].StatusText())
	require.NotNil(t, models[1].InCache)
	assert.True(t, *models[1].InCache)
	assert.False(t, models[2].HasStatus())
	assert.False(t, models[3].HasStatus())
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		}))
		defer srv.Close()

		latency, err := NewClient(srv.URL, "").Health(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(latency), int64(0))
	})

	t.Run("unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "").Health(context.Background())
		require.Error(t, err)
		assert.Equal(t, "HTTP 503: loading model", err.Error())
	})
}

func TestModelActions(t *testing.T) {
	type call struct {
		path  string
		model string
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, call{r.URL.Path, body.Model})
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	require.NoError(t, c.LoadModel(context.Background(), "qwen"))
	require.NoError(t, c.UnloadModel(context.Background(), "qwen"))

	assert.Equal(t, []call{{"/models/load", "qwen"}, {"/models/unload", "qwen"}}, calls)
}

func TestModelActions_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").LoadModel(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, "HTTP 404: no such model", err.Error())
}
