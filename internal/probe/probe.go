// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cjct-dev/HexAI/internal/api"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBlankURL is returned when the server address is empty.
	ErrBlankURL = errors.New("Please enter a server URL")

	// ErrUnsupportedScheme is returned for anything other than http/https.
	// SECURITY: Prevents file://, javascript://, data:// and custom handlers.
	ErrUnsupportedScheme = errors.New("only http and https schemes are allowed")
)

// DefaultProbeTimeout bounds each connection attempt during resolution.
const DefaultProbeTimeout = 10 * time.Second

// =============================================================================
// INTERFACES
// =============================================================================

// HealthChecker is satisfied by *api.Client.
type HealthChecker interface {
	Health(ctx context.Context) (time.Duration, error)
}

// ServerModelLister is satisfied by *api.Client.
type ServerModelLister interface {
	ListServerModels(ctx context.Context) ([]api.ServerModel, error)
}

// =============================================================================
// PROTOCOL RESOLUTION
// =============================================================================

// Result is a resolved server address.
type Result struct {
	URL    string
	Secure bool
}

// Resolver tests candidate URLs by listing models.
type Resolver struct {
	// Timeout per attempt (default: DefaultProbeTimeout).
	Timeout time.Duration

	// Transport overrides the HTTP round tripper (tests).
	Transport http.RoundTripper
}

// Resolve resolves raw with a default Resolver.
func Resolve(ctx context.Context, raw, apiKey string) (Result, error) {
	return (&Resolver{}).Resolve(ctx, raw, apiKey)
}

// Resolve returns the protocol-qualified base URL for raw.
//
// With an explicit scheme only that scheme is tested. Otherwise https is
// tried first, then http; if both fail the http attempt's error is returned.
func (r *Resolver) Resolve(ctx context.Context, raw, apiKey string) (Result, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return Result{}, ErrBlankURL
	}

	if strings.Contains(raw, "://") {
		candidate, err := parseExplicit(raw)
		if err != nil {
			return Result{}, err
		}
		if err := r.test(ctx, candidate.URL, apiKey); err != nil {
			return Result{}, err
		}
		return candidate, nil
	}

	secure := Result{URL: "https://" + raw, Secure: true}
	err := r.test(ctx, secure.URL, apiKey)
	if err == nil {
		return secure, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	log.Debug().Err(err).Str("url", secure.URL).Msg("https probe failed, trying http")

	plain := Result{URL: "http://" + raw}
	if err := r.test(ctx, plain.URL, apiKey); err != nil {
		return Result{}, err
	}
	if apiKey != "" && !IsLocalhost(hostOf(plain.URL)) {
		log.Warn().Str("url", plain.URL).Msg("api key will be sent over plaintext http")
	}
	return plain, nil
}

// test performs the connection check used during resolution: GET /v1/models.
func (r *Resolver) test(ctx context.Context, baseURL, apiKey string) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := api.NewClientWithConfig(&api.Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		ConnectTimeout: timeout,
		ReadTimeout:    timeout,
		AdminTimeout:   timeout,
		Transport:      r.Transport,
	})
	_, err := client.ListModels(ctx)
	return err
}

// parseExplicit validates a URL that already carries a scheme.
func parseExplicit(raw string) (Result, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return Result{}, ErrUnsupportedScheme
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return Result{}, ErrUnsupportedScheme
	}
	return Result{URL: raw, Secure: scheme == "https"}, nil
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// IsLocalhost reports whether host refers to the loopback interface.
// Accepts "localhost", any 127.0.0.0/8 address and IPv6 loopback forms.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// =============================================================================
// HEALTH AND CAPABILITY
// =============================================================================

// CheckHealth issues one liveness probe and returns its round trip.
func CheckHealth(ctx context.Context, hc HealthChecker) (time.Duration, error) {
	if hc == nil {
		return 0, api.ErrNotConfigured
	}
	return hc.Health(ctx)
}

// ProbeCapability reports whether the server supports model management:
// any entry of the extended model listing carrying a status field counts.
// Failures mean "not supported".
func ProbeCapability(ctx context.Context, lister ServerModelLister) bool {
	if lister == nil {
		return false
	}
	models, err := lister.ListServerModels(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("extended model listing unavailable")
		return false
	}
	for _, m := range models {
		if m.HasStatus() {
			return true
		}
	}
	return false
}
