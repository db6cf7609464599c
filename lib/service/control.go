// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package service

// Control socket actions. The webhook service and long `conveyor run`
// invocations serve these; `conveyor status` and `conveyor cancel`
// are the clients.
const (
	ActionStatus = "status"
	ActionCancel = "cancel"
	ActionPing   = "ping"
)

// RunStatus describes one in-flight run. StepIndex is -1 before the
// first step starts and after a provisioning failure.
type RunStatus struct {
	RunID     string `cbor:"run_id"              json:"run_id"`
	Pipeline  string `cbor:"pipeline"            json:"pipeline"`
	State     string `cbor:"state"               json:"state"`
	StepIndex int    `cbor:"step_index"          json:"step_index"`
	StepName  string `cbor:"step_name,omitempty" json:"step_name,omitempty"`
}

// RecentRun summarizes one completed run from the server's bounded
// ring of recent completions.
type RecentRun struct {
	RunID      string `cbor:"run_id"                json:"run_id"`
	Pipeline   string `cbor:"pipeline"              json:"pipeline"`
	Conclusion string `cbor:"conclusion"            json:"conclusion"`
	Cancelled  bool   `cbor:"cancelled,omitempty"   json:"cancelled,omitempty"`
	StartedAt  string `cbor:"started_at"            json:"started_at"`
	DurationMS int64  `cbor:"duration_ms"           json:"duration_ms"`
	FailedStep string `cbor:"failed_step,omitempty" json:"failed_step,omitempty"`
}

// StatusResponse is the status action's payload.
type StatusResponse struct {
	Active []RunStatus `cbor:"active"           json:"active"`
	Recent []RecentRun `cbor:"recent,omitempty" json:"recent,omitempty"`
}

// CancelRequest asks the server to cancel an in-flight run. A `conveyor
// run` server also accepts an empty RunID and cancels its only run.
type CancelRequest struct {
	RunID string `cbor:"run_id" json:"run_id"`
}

// CancelResponse names the run that was cancelled.
type CancelResponse struct {
	RunID string `cbor:"run_id" json:"run_id"`
}
