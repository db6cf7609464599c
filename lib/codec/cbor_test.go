// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleRequest is a representative control-socket request using json
// struct tags (the convention for types that serve both the socket
// protocol and CLI --json output).
type sampleRequest struct {
	Action string `json:"action"`
	RunID  string `json:"run_id,omitempty"`
	Limit  int    `json:"limit"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRequest{
		Action: "cancel",
		RunID:  "0f2d9c3a",
		Limit:  42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	request := sampleRequest{
		Action: "status",
		RunID:  "abc123",
		Limit:  7,
	}

	first, err := Marshal(request)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}

	second, err := Marshal(request)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	requests := []sampleRequest{
		{Action: "status", RunID: "a", Limit: 1},
		{Action: "cancel", RunID: "b", Limit: 2},
		{Action: "ping", Limit: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, request := range requests {
		if err := encoder.Encode(request); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range requests {
		var got sampleRequest
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode request %d: %v", i, err)
		}
		if got != want {
			t.Errorf("request %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestOmitemptyRespected(t *testing.T) {
	// A zero-value omitempty field should not appear in output.
	withRunID := sampleRequest{Action: "a", RunID: "x", Limit: 1}
	withoutRunID := sampleRequest{Action: "a", Limit: 1}

	dataWith, err := Marshal(withRunID)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutRunID)
	if err != nil {
		t.Fatal(err)
	}

	// The encoding without the run_id field should be shorter because
	// the omitted field is not present.
	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var request sampleRequest
	err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &request)
	if err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestDefaultMapType(t *testing.T) {
	// Decoding into an any target must produce map[string]any, not
	// map[interface{}]interface{}; downstream code (JSON re-encoding,
	// handler field extraction) depends on it.
	data, err := Marshal(map[string]any{"action": "status", "limit": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["action"] != "status" {
		t.Errorf("action = %v, want %q", asMap["action"], "status")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	// Verify that []byte fields encode as CBOR byte strings (major
	// type 2), not text strings. This matters for carrying
	// pre-serialized JSON payloads across the socket.
	type envelope struct {
		Payload []byte `cbor:"payload"`
	}

	original := envelope{Payload: []byte(`{"key":"value"}`)}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("byte string roundtrip: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func BenchmarkMarshal(b *testing.B) {
	request := sampleRequest{
		Action: "status",
		RunID:  "0f2d9c3a",
		Limit:  42,
	}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(request)
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	request := sampleRequest{
		Action: "status",
		RunID:  "0f2d9c3a",
		Limit:  42,
	}
	data, err := Marshal(request)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		var decoded sampleRequest
		Unmarshal(data, &decoded)
	}
}
