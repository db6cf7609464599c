// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

// Webhook payload types. These are minimal structs extracting only
// the fields needed to build a repository event; forge webhook
// payloads carry hundreds of fields that the engine never looks at.
// Forgejo keeps its payloads compatible with GitHub's, so one set of
// structs covers both providers.
//
// JSON field names match the GitHub webhook payload documentation.

// senderRef is the forge user that caused the delivery.
type senderRef struct {
	Login string `json:"login"`
}

// branchRef is a branch head on a pull request.
type branchRef struct {
	Ref string `json:"ref"` // branch name
	SHA string `json:"sha"` // head commit SHA
}

// pushPayload is the "push" event payload.
type pushPayload struct {
	Ref     string    `json:"ref"`     // "refs/heads/main", or a tag ref
	After   string    `json:"after"`   // new HEAD SHA
	Deleted bool      `json:"deleted"` // true when the push deletes the ref
	Sender  senderRef `json:"sender"`
}

// pullRequestDetail is the pull request inside a pull_request event.
type pullRequestDetail struct {
	Head branchRef `json:"head"`
	Base branchRef `json:"base"`
}

// pullRequestPayload is the "pull_request" event payload.
type pullRequestPayload struct {
	Action      string            `json:"action"` // opened, synchronize, reopened, closed, labeled, ...
	PullRequest pullRequestDetail `json:"pull_request"`
	Sender      senderRef         `json:"sender"`
}
