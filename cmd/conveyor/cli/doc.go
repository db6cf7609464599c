// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the conveyor CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in
// cmd/conveyor/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help output
// with examples. Run receives the process context (cancelled on SIGINT
// and SIGTERM) and the command logger built by [NewCommandLogger].
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
//
// Commands write results to stdout ([WriteJSON] for --json output) and
// diagnostics to stderr through the logger. A command whose non-zero
// exit is an outcome rather than an error (a failed run, an invalid
// definition) returns [ExitError] after printing its own output.
package cli
