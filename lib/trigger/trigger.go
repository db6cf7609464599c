// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger decides whether an event starts a pipeline. A
// pipeline's trigger rules are evaluated against the event; the
// pipeline runs when at least one rule accepts it, and is reported as
// not triggered (not an error) when none does.
package trigger

import (
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

// RuleMatches reports whether a single rule accepts the event. A rule
// accepts when its event kind equals the event's kind and the event's
// match branch (pushed branch for push, target branch for
// pull_request) appears in the rule's branch list. Branch comparison
// is exact and case-sensitive.
func RuleMatches(rule schema.TriggerRule, evt *event.Event) bool {
	if rule.Event != evt.Kind {
		return false
	}
	branch := evt.MatchBranch()
	for _, candidate := range rule.Branches {
		if candidate == branch {
			return true
		}
	}
	return false
}

// Matches reports whether any rule accepts the event.
func Matches(rules []schema.TriggerRule, evt *event.Event) bool {
	for _, rule := range rules {
		if RuleMatches(rule, evt) {
			return true
		}
	}
	return false
}
