// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package probe

import (
	"context"
	"time"
)

// DefaultHealthInterval is the pause between background health probes.
const DefaultHealthInterval = 5 * time.Second

// HealthFunc receives each probe outcome. err is nil on success.
type HealthFunc func(latency time.Duration, err error)

// HealthLoop probes hc immediately, then waits interval after each probe
// finishes before the next one, until ctx is done. Each probe runs with its
// own deadline of one interval so a hung server cannot stall the loop.
func HealthLoop(ctx context.Context, hc HealthChecker, interval time.Duration, fn HealthFunc) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, interval)
		latency, err := CheckHealth(probeCtx, hc)
		cancel()

		if ctx.Err() != nil {
			return
		}
		fn(latency, err)
		timer.Reset(interval)
	}
}
