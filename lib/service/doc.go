// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the network surfaces Conveyor processes
// share: a control protocol over a Unix socket and an HTTP server for
// forge webhooks.
//
// The webhook service uses both (an HTTP listener for GitHub and
// Forgejo deliveries, a control socket for status and cancellation).
// A `conveyor run --socket` process serves the same control protocol
// for its single run, and the conveyor status and cancel commands are
// clients of it. This package extracts the scaffolding all of them
// need:
//
//   - HTTP server: listener lifecycle with graceful shutdown, plus
//     HMAC-SHA256 webhook signature verification.
//   - Socket server: CBOR request-response Unix socket with action
//     dispatch, connection timeouts, and graceful shutdown.
//   - Socket client: one connection per call, used by the CLI.
//
// Consumers compose these in their own main() rather than subclassing
// a framework. The package provides building blocks, not a runtime.
//
// # Authentication
//
// The control socket has no caller authentication: filesystem
// permissions on the socket path determine who can connect, which is
// the right boundary for a single-host tool. Webhook requests are
// authenticated by HMAC signature against a per-forge shared secret.
package service
