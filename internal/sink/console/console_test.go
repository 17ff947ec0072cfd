package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/smedrec/logpipe/internal/record"
)

func TestSendWritesOneLinePerRecord(t *testing.T) {
	ser, err := record.NewSerializer(nil, false, '*')
	if err != nil {
		t.Fatalf("new serializer: %v", err)
	}
	var buf bytes.Buffer
	s := New("console", &buf, ser)

	batch := record.Batch{Records: []record.LogRecord{
		record.New(record.LevelInfo, "first", record.Metadata{Service: "svc", Environment: "prod"}),
		record.New(record.LevelError, "second", record.Metadata{Service: "svc", Environment: "prod"}),
	}}
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line 0 not valid JSON: %v", err)
	}
	if decoded["message"] != "first" {
		t.Fatalf("expected first line to be the first record in order, got %v", decoded["message"])
	}
}

func TestIsHealthyAlwaysNil(t *testing.T) {
	s := New("console", &bytes.Buffer{}, mustSerializer(t))
	if err := s.IsHealthy(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func mustSerializer(t *testing.T) *record.Serializer {
	t.Helper()
	ser, err := record.NewSerializer(nil, false, '*')
	if err != nil {
		t.Fatalf("new serializer: %v", err)
	}
	return ser
}
