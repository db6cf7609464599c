// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Conveyor
// binaries. These functions centralize the raw I/O that legitimately
// happens before or after the structured logger exists:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// All other output in the service binary goes through slog; the CLI
// writes results to stdout and diagnostics to stderr.
package process
