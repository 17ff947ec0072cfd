package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/smedrec/logpipe/internal/record"
)

func mustSerializer(t *testing.T) *record.Serializer {
	t.Helper()
	ser, err := record.NewSerializer(nil, false, '*')
	if err != nil {
		t.Fatalf("new serializer: %v", err)
	}
	return ser
}

func TestSendListPushesEveryRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New("redis", Config{Addr: mr.Addr(), Mode: ModeList, ListName: "logs"}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	batch := record.Batch{Records: []record.LogRecord{
		record.New(record.LevelInfo, "a", record.Metadata{Service: "s", Environment: "e"}),
		record.New(record.LevelInfo, "b", record.Metadata{Service: "s", Environment: "e"}),
	}}
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := mr.List("logs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(n) != 2 {
		t.Fatalf("expected 2 list entries, got %d", len(n))
	}
}

func TestSendStreamAddsEveryRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New("redis", Config{Addr: mr.Addr(), Mode: ModeStream, Stream: "logstream"}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	batch := record.Batch{Records: []record.LogRecord{
		record.New(record.LevelError, "boom", record.Metadata{Service: "s", Environment: "e"}),
	}}
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mr.Exists("logstream") == false {
		t.Fatal("expected stream key to exist after XAdd")
	}
}

func TestIsHealthyPings(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New("redis", Config{Addr: mr.Addr()}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	if err := s.IsHealthy(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}
}
