// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for pipeline secrets. It wraps
// filippo.io/age for the specific operations Conveyor needs: generate
// keypairs, seal plaintext values to recipients, and unseal them at
// provisioning time with the runner's identity key.
//
// A sealed value is the string "sealed:" followed by standard base64 of
// the age ciphertext. The form is compact enough to paste into the env
// block of a pipeline definition:
//
//	env:
//	  API_TOKEN: sealed:YWdlLWVuY3J5cHRpb24ub3JnL3YxCi0+IFgyNTUxOSA...
//
// Private keys and unsealed plaintext are returned as *secret.Buffer
// values, backed by mmap memory outside the Go heap (locked against
// swap, excluded from core dumps, zeroed on close).
//
// This package is used by:
//   - The provisioner (unseal env values before a run)
//   - conveyor secret keygen / seal (operator tooling)
package sealed
