// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration constants.
const (
	// DefaultConnectTimeout bounds TCP/TLS connection setup.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout is the longest a stream may stay silent, and the
	// overall limit for a bulk completion.
	DefaultReadTimeout = 120 * time.Second

	// DefaultAdminTimeout bounds health checks and model management calls.
	DefaultAdminTimeout = 5 * time.Second

	// DefaultDrainTimeout is how long a stream keeps reading after a
	// finish_reason, waiting for trailing usage frames and [DONE].
	DefaultDrainTimeout = 2 * time.Second

	// MaxResponseSize is the maximum accepted non-streaming response body.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error body is echoed to the user.
	maxErrorBody = 4 * 1024

	chatCompletionsPath = "/v1/chat/completions"
	userAgent           = "hexai/1.0"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the API client.
type Config struct {
	// BaseURL is the protocol-qualified server URL, without /v1.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// ConnectTimeout for dialing and TLS handshake (default: 30s).
	ConnectTimeout time.Duration

	// ReadTimeout is the idle limit per streamed line and the total limit
	// for bulk requests (default: 120s).
	ReadTimeout time.Duration

	// AdminTimeout for /health and /models calls (default: 5s).
	AdminTimeout time.Duration

	// DrainTimeout bounds reading after a finish_reason (default: 2s).
	DrainTimeout time.Duration

	// Transport overrides the HTTP round tripper (tests).
	Transport http.RoundTripper
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		AdminTimeout:   DefaultAdminTimeout,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one OpenAI-compatible server.
//
// The Client is safe for concurrent use; it holds no per-request state.
type Client struct {
	config *Config

	// streamClient has no overall timeout; streams are bounded by the
	// caller's context and the idle watchdog.
	streamClient *http.Client
	bulkClient   *http.Client
	adminClient  *http.Client
}

// NewClient creates a client with default timeouts.
func NewClient(baseURL, apiKey string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = apiKey
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client, filling zero values with defaults.
func NewClientWithConfig(config *Config) *Client {
	cfg := *config
	defaults := DefaultConfig()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.AdminTimeout == 0 {
		cfg.AdminTimeout = defaults.AdminTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	transport := cfg.Transport
	if transport == nil {
		transport = newTransport(cfg.ConnectTimeout)
	}

	return &Client{
		config:       &cfg,
		streamClient: &http.Client{Transport: transport},
		bulkClient:   &http.Client{Transport: transport, Timeout: cfg.ReadTimeout},
		adminClient:  &http.Client{Transport: transport, Timeout: cfg.AdminTimeout},
	}
}

// newTransport builds a pooled transport.
// SECURITY: TLS 1.2+ for https endpoints.
func newTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: connectTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// HasAPIKey reports whether requests carry a bearer token.
func (c *Client) HasAPIKey() bool {
	return c.config.APIKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for logs.
// SECURITY: Never exposes key fragments.
func (c *Client) KeyFingerprint() string {
	if c.config.APIKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.config.APIKey))
	return hex.EncodeToString(h[:4])
}

// url joins the base URL and an absolute path.
func (c *Client) url(path string) string {
	return c.config.BaseURL + path
}

// setHeaders sets the headers common to every request.
func (c *Client) setHeaders(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.Header.Set("User-Agent", userAgent)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// newJSONRequest marshals body (if any) and builds a request.
func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if c.config.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)
	return req, nil
}

// logResponse logs an API response without bodies or headers.
func logResponse(req *http.Request, status int, started time.Time) {
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", status).
		Dur("duration", time.Since(started)).
		Msg("api response")
}

// readLimited reads a body with a size cap.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", limit)
	}
	return data, nil
}

// readErrorBody returns at most maxErrorBody bytes of an error response.
func readErrorBody(r io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return data
}

// transportError converts a Do/read failure, passing cancellation through.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ce := Classify(err); ce != nil {
		return ce
	}
	return err
}

// =============================================================================
// BULK COMPLETION
// =============================================================================

// Complete performs a non-streaming chat completion (stream=false) and
// returns the parsed response. Cancellation is returned as ctx.Err().
func (c *Client) Complete(ctx context.Context, chat ChatRequest) (*CompletionResponse, error) {
	chat.Stream = false

	req, err := c.newJSONRequest(ctx, http.MethodPost, chatCompletionsPath, chat)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := c.bulkClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	logResponse(req, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpStatusError(resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var out CompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &out, nil
}
