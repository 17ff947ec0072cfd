package record

import (
	"encoding/json"
	"testing"
	"time"
)

func baseRecord() LogRecord {
	r := New(LevelInfo, "hello", Metadata{Service: "svc", Environment: "prod"})
	r.ID = "fixed-id"
	r.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Fields = map[string]any{"user": "bob", "count": 3}
	return r
}

func TestSerializeRoundTrip(t *testing.T) {
	s := &Serializer{}
	r := baseRecord()
	out := s.Serialize(r)

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if decoded["message"] != "hello" {
		t.Fatalf("message mismatch: %v", decoded["message"])
	}
	if decoded["@id"] != "fixed-id" {
		t.Fatalf("id mismatch: %v", decoded["@id"])
	}

	out2 := s.Serialize(r)
	if string(out) != string(out2) {
		t.Fatalf("serialize not idempotent:\n%s\nvs\n%s", out, out2)
	}
}

func TestSerializeCyclicFields(t *testing.T) {
	s := &Serializer{}
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	r := baseRecord()
	r.Fields = map[string]any{"graph": cyclic}

	out := s.Serialize(r)
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("cyclic input produced invalid JSON: %v", err)
	}
	fields := decoded["fields"].(map[string]any)
	graph := fields["graph"].(map[string]any)
	if graph["self"] != circularMarker {
		t.Fatalf("expected circular marker, got %v", graph["self"])
	}
}

func TestSerializeNonSerializable(t *testing.T) {
	s := &Serializer{}
	r := baseRecord()
	r.Fields = map[string]any{"fn": func() {}}

	out := s.Serialize(r)
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	fields := decoded["fields"].(map[string]any)
	if fields["fn"] != nonSerializableMarker {
		t.Fatalf("expected non-serializable marker, got %v", fields["fn"])
	}
}

func TestSerializeBatchIndependentFailure(t *testing.T) {
	s := &Serializer{}
	good := baseRecord()
	bad := baseRecord()
	bad.ID = "bad"
	bad.Fields = map[string]any{"fn": func() {}}

	out := s.SerializeBatch([]LogRecord{good, bad})
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	var d0, d1 map[string]any
	if err := json.Unmarshal(out[0], &d0); err != nil {
		t.Fatalf("good record should still serialize: %v", err)
	}
	if err := json.Unmarshal(out[1], &d1); err != nil {
		t.Fatalf("bad record should still fall back to valid JSON: %v", err)
	}
}

func TestMaskingPreservesLength(t *testing.T) {
	s, err := NewSerializer([]string{"(?i)password"}, true, '*')
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}
	r := baseRecord()
	r.Fields = map[string]any{"password": "hunter2"}

	out := s.Serialize(r)
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	fields := decoded["fields"].(map[string]any)
	if fields["password"] != "*******" {
		t.Fatalf("expected masked value of same length, got %q", fields["password"])
	}
}

func TestCompressStreamLargePayload(t *testing.T) {
	s := &Serializer{}
	data := make([]byte, streamCompressThreshold+1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	compressed, err := s.CompressStream(data)
	if err != nil {
		t.Fatalf("CompressStream: %v", err)
	}
	if len(compressed) == 0 {
		t.Fatalf("expected non-empty compressed output")
	}
}
