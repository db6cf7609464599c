// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/service"
)

// maxWebhookBodySize caps accepted payload sizes. GitHub's documented
// maximum is ~25 MB for push events with large commit histories; 32 MB
// gives headroom. The engine only reads refs and SHAs, but the full
// body still has to be read for signature verification.
const maxWebhookBodySize = 32 * 1024 * 1024

// deduplicationWindow is how long delivery IDs are tracked for replay
// protection. Forges retry failed deliveries within minutes, so one
// hour is conservative.
const deduplicationWindow = 1 * time.Hour

// provider describes where a forge puts its event type and delivery
// ID headers. Signature verification is identical across providers
// (X-Hub-Signature-256, HMAC-SHA256).
type provider struct {
	eventHeaders    []string
	deliveryHeaders []string
}

// providers maps the {provider} path element of /hooks/{provider} to
// its header conventions. Forgejo sends both its own headers and
// Gitea-compatible ones depending on version.
var providers = map[string]provider{
	"github": {
		eventHeaders:    []string{"X-GitHub-Event"},
		deliveryHeaders: []string{"X-GitHub-Delivery"},
	},
	"forgejo": {
		eventHeaders:    []string{"X-Forgejo-Event", "X-Gitea-Event"},
		deliveryHeaders: []string{"X-Forgejo-Delivery", "X-Gitea-Delivery"},
	},
}

// WebhookHandler processes incoming forge webhooks: it verifies
// HMAC-SHA256 signatures, deduplicates deliveries, and translates
// push and pull_request payloads into repository events.
//
// Mount it at "POST /hooks/{provider}"; it reads the provider from
// the request path.
type WebhookHandler struct {
	secret []byte
	logger *slog.Logger

	// onEvent receives each verified, translated event. The
	// dispatcher wires this to pipeline evaluation and run startup.
	onEvent func(evt *event.Event)

	// deliveries tracks recently processed delivery IDs for replay
	// protection, keyed by provider-qualified delivery ID.
	mu         sync.Mutex
	deliveries map[string]time.Time
}

// NewWebhookHandler creates a handler verifying webhooks with the
// given HMAC secret. Panics if secret is empty, logger is nil, or
// onEvent is nil; a nil callback would silently discard events.
func NewWebhookHandler(secret []byte, logger *slog.Logger, onEvent func(*event.Event)) *WebhookHandler {
	if len(secret) == 0 {
		panic("WebhookHandler: secret is required")
	}
	if logger == nil {
		panic("WebhookHandler: logger is required")
	}
	if onEvent == nil {
		panic("WebhookHandler: onEvent callback is required")
	}
	return &WebhookHandler{
		secret:     secret,
		logger:     logger,
		onEvent:    onEvent,
		deliveries: make(map[string]time.Time),
	}
}

// ServeHTTP handles a single webhook delivery.
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "", http.StatusMethodNotAllowed)
		return
	}

	forge, known := providers[request.PathValue("provider")]
	if !known {
		http.Error(writer, "", http.StatusNotFound)
		return
	}

	// Read the body first: HMAC verification needs the raw bytes.
	body, err := io.ReadAll(io.LimitReader(request.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Error("webhook: reading body failed", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	signature := request.Header.Get("X-Hub-Signature-256")
	if err := service.VerifyWebhookHMAC(h.secret, body, signature); err != nil {
		h.logger.Warn("webhook: signature verification failed",
			"error", err,
			"remote_addr", request.RemoteAddr,
		)
		// 401 with no information disclosure.
		http.Error(writer, "", http.StatusUnauthorized)
		return
	}

	eventType := firstHeader(request.Header, forge.eventHeaders)
	if eventType == "" {
		h.logger.Warn("webhook: missing event type header")
		http.Error(writer, "", http.StatusBadRequest)
		return
	}
	deliveryID := firstHeader(request.Header, forge.deliveryHeaders)

	// Replay protection: accept duplicate deliveries (so the forge
	// stops retrying) without starting runs for them.
	if deliveryID != "" && h.isDuplicate(request.PathValue("provider")+":"+deliveryID) {
		h.logger.Debug("webhook: duplicate delivery, ignoring",
			"delivery_id", deliveryID,
			"event_type", eventType,
		)
		writer.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("webhook received",
		"provider", request.PathValue("provider"),
		"event_type", eventType,
		"delivery_id", deliveryID,
	)

	evt, err := translateEvent(eventType, body)
	if err != nil {
		h.logger.Error("webhook: translation failed",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"error", err,
		)
		// 200: retrying won't fix a malformed payload.
		writer.WriteHeader(http.StatusOK)
		return
	}
	if evt == nil {
		// Event type or action that does not start runs (ping, tag
		// pushes, PR label changes). Acknowledge silently.
		h.logger.Debug("webhook: event does not start runs, ignoring",
			"event_type", eventType,
			"delivery_id", deliveryID,
		)
		writer.WriteHeader(http.StatusOK)
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Warn("webhook: translated event is invalid",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"error", err,
		)
		writer.WriteHeader(http.StatusOK)
		return
	}
	evt.Delivery = deliveryID

	h.onEvent(evt)

	writer.WriteHeader(http.StatusOK)
}

// isDuplicate checks and records a delivery key. Returns true if the
// delivery was already processed within the deduplication window.
func (h *WebhookHandler) isDuplicate(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()

	// Prune expired entries on every check. The map holds one entry
	// per delivery over the last hour, so this stays cheap.
	for id, receivedAt := range h.deliveries {
		if now.Sub(receivedAt) > deduplicationWindow {
			delete(h.deliveries, id)
		}
	}

	if _, exists := h.deliveries[key]; exists {
		return true
	}
	h.deliveries[key] = now
	return false
}

// firstHeader returns the first non-empty value among the named
// headers.
func firstHeader(header http.Header, names []string) string {
	for _, name := range names {
		if value := header.Get(name); value != "" {
			return value
		}
	}
	return ""
}

// translateEvent converts a raw webhook payload into a repository
// event. Returns nil for event types and actions that do not start
// pipeline runs.
func translateEvent(eventType string, body []byte) (*event.Event, error) {
	switch eventType {
	case "push":
		return translatePush(body)
	case "pull_request":
		return translatePullRequest(body)
	default:
		// ping, issues, releases, and whatever event types the forge
		// adds later. Nil (not an error) so unknown types are
		// acknowledged, not rejected.
		return nil, nil
	}
}

func translatePush(body []byte) (*event.Event, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing push payload: %w", err)
	}

	// Only branch pushes start runs. Tag pushes (refs/tags/...) and
	// branch deletions have no tree state to build.
	if !strings.HasPrefix(payload.Ref, "refs/heads/") {
		return nil, nil
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == "" || payload.Deleted {
		return nil, nil
	}

	return &event.Event{
		Kind:   event.KindPush,
		Branch: branch,
		Commit: payload.After,
		Actor:  payload.Sender.Login,
	}, nil
}

// pullRequestActions are the pull_request actions that start runs: a
// new pull request, new commits on an existing one, or a reopen.
// Label, assignment, review, and close actions do not run CI.
var pullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func translatePullRequest(body []byte) (*event.Event, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing pull_request payload: %w", err)
	}

	if !pullRequestActions[payload.Action] {
		return nil, nil
	}

	return &event.Event{
		Kind:         event.KindPullRequest,
		Branch:       payload.PullRequest.Head.Ref,
		TargetBranch: payload.PullRequest.Base.Ref,
		Commit:       payload.PullRequest.Head.SHA,
		Actor:        payload.Sender.Login,
	}, nil
}
