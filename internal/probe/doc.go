// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package probe resolves user-entered server addresses and checks server
// liveness.
//
// Resolve turns "host:port" into a protocol-qualified base URL by trying
// https first and falling back to http. CheckHealth and HealthLoop measure
// /health latency on a connection independent of any chat stream.
// ProbeCapability detects routers that support model load/unload.
package probe
