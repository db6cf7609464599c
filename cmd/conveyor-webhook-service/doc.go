// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// conveyor-webhook-service receives forge webhooks and turns them
// into pipeline runs.
//
// The service listens for HTTP POSTs on /hooks/{provider} (github and
// forgejo), verifies each delivery's HMAC-SHA256 signature, and
// translates push and pull_request payloads into repository events.
// Every event is evaluated against the configured pipeline
// definitions; each matching pipeline gets its own independent run.
// Completed runs are recorded to the history database and to a
// bounded in-memory ring served over the control socket, where
// `conveyor status` and `conveyor cancel` operate on in-flight runs.
//
// Configuration is a single YAML file (see Config); the webhook
// secret lives in a separate file so the config can be world-readable.
package main
