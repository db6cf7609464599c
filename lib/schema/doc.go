// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the content structures shared across conveyor:
// pipeline definitions as loaded from disk, and run results as produced
// by the executor and stored in history.
//
// Every top-level structure carries an explicit Version field so that
// readers can reject content written by an incompatible conveyor
// release instead of misinterpreting it. Definition structures validate
// by accumulating issues (a definition author wants the full list);
// result structures validate first-fault (a corrupt result is a bug,
// one fault is enough).
package schema
