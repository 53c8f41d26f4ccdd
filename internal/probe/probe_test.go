// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjct-dev/HexAI/internal/api"
)

func modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/models" {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, `{"data":[{"id":"m"}]}`)
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_FallsBackToPlaintext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(modelsHandler))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	res, err := Resolve(context.Background(), host, "")
	require.NoError(t, err)
	assert.Equal(t, Result{URL: "http://" + host, Secure: false}, res)
}

func TestResolve_PrefersSecure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(modelsHandler))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "https://")
	r := &Resolver{Transport: srv.Client().Transport}
	res, err := r.Resolve(context.Background(), host+"/", "")
	require.NoError(t, err)
	assert.Equal(t, Result{URL: "https://" + host, Secure: true}, res)
}

func TestResolve_ExplicitSchemeTestedAlone(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		modelsHandler(w, r)
	}))
	defer srv.Close()

	res, err := Resolve(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, Result{URL: srv.URL, Secure: false}, res)
	assert.Equal(t, 1, hits)
}

func TestResolve_BothFailReturnsPlaintextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	_, err := Resolve(context.Background(), host, "")
	require.Error(t, err)
	code, ok := api.IsHTTPStatus(err)
	require.True(t, ok, "expected the http attempt's status error, got %v", err)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestResolve_Validation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrBlankURL},
		{"whitespace", "   ", ErrBlankURL},
		{"file scheme", "file:///etc/passwd", ErrUnsupportedScheme},
		{"javascript", "javascript://alert(1)", ErrUnsupportedScheme},
		{"ftp", "ftp://example.com", ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(context.Background(), tt.raw, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Resolve(ctx, "127.0.0.1:1", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsLocalhost(t *testing.T) {
	for _, host := range []string{"localhost", "LOCALHOST", "127.0.0.1", "127.1.2.3", "::1", "[::1]", "localhost:8080", "[::1]:8080"} {
		assert.True(t, IsLocalhost(host), host)
	}
	for _, host := range []string{"example.com", "10.0.0.1", "localhost.evil.com", ""} {
		assert.False(t, IsLocalhost(host), host)
	}
}

// =============================================================================
// HEALTH AND CAPABILITY
// =============================================================================

type fakeHealth struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration

	// starts and ends record when each health check began and returned.
	starts []time.Time
	ends   []time.Time
}

func (f *fakeHealth) Health(ctx context.Context) (time.Duration, error) {
	f.mu.Lock()
	f.calls++
	f.starts = append(f.starts, time.Now())
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, time.Now())
	return 3 * time.Millisecond, f.err
}

type fakeLister struct {
	models []api.ServerModel
	err    error
}

func (f fakeLister) ListServerModels(ctx context.Context) ([]api.ServerModel, error) {
	return f.models, f.err
}

func TestCheckHealth(t *testing.T) {
	latency, err := CheckHealth(context.Background(), &fakeHealth{})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, latency)

	_, err = CheckHealth(context.Background(), nil)
	assert.ErrorIs(t, err, api.ErrNotConfigured)
}

func TestProbeCapability(t *testing.T) {
	ctx := context.Background()
	assert.True(t, ProbeCapability(ctx, fakeLister{models: []api.ServerModel{
		{ID: "a"},
		{ID: "b", Status: []byte(`"loaded"`)},
	}}))
	assert.False(t, ProbeCapability(ctx, fakeLister{models: []api.ServerModel{{ID: "a"}}}))
	assert.False(t, ProbeCapability(ctx, fakeLister{err: errors.New("404")}))
	assert.False(t, ProbeCapability(ctx, nil))
}

func TestHealthLoop_ProbesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hc := &fakeHealth{}

	results := make(chan error, 16)
	done := make(chan struct{})
	go func() {
		HealthLoop(ctx, hc, 20*time.Millisecond, func(latency time.Duration, err error) {
			select {
			case results <- err:
			default:
			}
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("health loop did not tick")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health loop did not stop")
	}
}

func TestHealthLoop_WaitsFullIntervalAfterSlowProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const interval = 80 * time.Millisecond
	hc := &fakeHealth{delay: 60 * time.Millisecond}
	results := make(chan struct{}, 16)
	go HealthLoop(ctx, hc, interval, func(time.Duration, error) {
		select {
		case results <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("health loop did not tick")
		}
	}
	cancel()

	hc.mu.Lock()
	defer hc.mu.Unlock()
	require.GreaterOrEqual(t, len(hc.starts), 3)
	for i := 1; i < 3; i++ {
		gap := hc.starts[i].Sub(hc.ends[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "check %d started %s after the previous one finished", i, gap)
	}
}

func TestHealthLoop_ReportsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("down")
	got := make(chan error, 1)
	go HealthLoop(ctx, &fakeHealth{err: boom}, time.Hour, func(_ time.Duration, err error) {
		select {
		case got <- err:
		default:
		}
	})

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("first probe should run immediately")
	}
}
