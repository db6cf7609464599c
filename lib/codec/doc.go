// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Conveyor's standard CBOR encoding configuration.
//
// Conveyor uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: pipeline definitions (JSONC), the
//     result log (JSONL), webhook payloads, and CLI --json output.
//   - CBOR for the control socket protocol between the CLI and a
//     running executor or the webhook service.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Control-socket protocol types carry `json` struct tags: fxamacker/cbor
// v2 reads `json` tags when `cbor` tags are absent, so a single tag
// controls field naming and omitempty for both the socket protocol and
// CLI --json output of the same types.
package codec
