// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records inference performance for hexai.
//
// The session controller reports every finished response, transport error
// and health probe through the Recorder interface. Two implementations are
// provided and are usually combined with Multi:
//
//   - PromRecorder: Prometheus collectors, optionally exposed by Serve
//   - SessionTotals: an in-memory aggregate shown by the /status command
//
// # Usage
//
//	totals := telemetry.NewSessionTotals()
//	prom := telemetry.NewPromRecorder(prometheus.NewRegistry())
//	rec := telemetry.Multi(totals, prom)
//	rec.ObserveCompletion("qwen", stats)
//
// # Privacy
//
// Only counts and timings are recorded. Message content never leaves the
// process through this package.
package telemetry
