// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the trigger events that start pipeline runs:
// a push to a branch, or a pull request targeting a branch. Events
// arrive from forge webhooks or are constructed from CLI flags; either
// way they pass Validate before any pipeline sees them.
package event

import "fmt"

// Event kinds.
const (
	// KindPush is a push of commits to a branch.
	KindPush = "push"

	// KindPullRequest is a pull request opened against, or updated
	// on, a target branch.
	KindPullRequest = "pull_request"
)

// KnownKind reports whether kind names a supported event kind.
func KnownKind(kind string) bool {
	return kind == KindPush || kind == KindPullRequest
}

// Event is a single trigger occurrence. Kind determines which fields
// are required: push events carry the pushed Branch, pull_request
// events carry the TargetBranch the change would merge into plus the
// head Branch it comes from.
type Event struct {
	// Kind is KindPush or KindPullRequest.
	Kind string `json:"kind"`

	// Branch is the pushed branch (push) or the head branch
	// (pull_request).
	Branch string `json:"branch"`

	// TargetBranch is the branch a pull request would merge into.
	// Empty for push events.
	TargetBranch string `json:"target_branch,omitempty"`

	// Commit is the commit the event refers to, when known: the new
	// head for pushes, the PR head for pull requests.
	Commit string `json:"commit,omitempty"`

	// Actor is the forge username that caused the event, when known.
	Actor string `json:"actor,omitempty"`

	// Delivery is the forge's delivery identifier for the webhook
	// that carried this event, used for duplicate suppression. Empty
	// for CLI-constructed events.
	Delivery string `json:"delivery,omitempty"`
}

// InvalidError reports a malformed event: an unknown kind or a missing
// required field. Runs triggered by an invalid event fail without
// provisioning anything.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "invalid event: " + e.Reason
}

// Validate checks that the event is well-formed for its kind. Returns
// a *InvalidError describing the problem, or nil.
func (e *Event) Validate() error {
	switch e.Kind {
	case KindPush:
		if e.Branch == "" {
			return &InvalidError{Reason: "push event has no branch"}
		}
	case KindPullRequest:
		if e.TargetBranch == "" {
			return &InvalidError{Reason: "pull_request event has no target branch"}
		}
		if e.Branch == "" {
			return &InvalidError{Reason: "pull_request event has no head branch"}
		}
	case "":
		return &InvalidError{Reason: "kind is required"}
	default:
		return &InvalidError{Reason: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	return nil
}

// MatchBranch returns the branch trigger rules compare against: the
// pushed branch for push events, the target branch for pull_request
// events.
func (e *Event) MatchBranch() string {
	if e.Kind == KindPullRequest {
		return e.TargetBranch
	}
	return e.Branch
}

// Variables returns the event's expansion variables (EVENT_KIND,
// EVENT_BRANCH, EVENT_TARGET_BRANCH, EVENT_COMMIT, EVENT_ACTOR).
// Fields without a value are omitted rather than set to empty, so the
// process environment can still supply them.
func (e *Event) Variables() map[string]string {
	variables := map[string]string{"EVENT_KIND": e.Kind}
	if e.Branch != "" {
		variables["EVENT_BRANCH"] = e.Branch
	}
	if e.TargetBranch != "" {
		variables["EVENT_TARGET_BRANCH"] = e.TargetBranch
	}
	if e.Commit != "" {
		variables["EVENT_COMMIT"] = e.Commit
	}
	if e.Actor != "" {
		variables["EVENT_ACTOR"] = e.Actor
	}
	return variables
}
