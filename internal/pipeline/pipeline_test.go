package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/smedrec/logpipe/internal/config"
	"github.com/smedrec/logpipe/internal/record"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Service = "svc"
	cfg.Environment = "test"
	cfg.Batch = config.BatchConfig{MaxSize: 2, TimeoutMS: 50, MaxConcurrency: 2, MaxQueueSize: 100}
	cfg.Health.CheckIntervalMS = 3_600_000 // disable the background probe loop's ticks during the test
	return cfg
}

func TestEmitAndFlushDeliversToConsole(t *testing.T) {
	p, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close(context.Background())

	for i := 0; i < 2; i++ {
		r := record.New(record.LevelInfo, "hello", record.Metadata{Service: "svc", Environment: "test"})
		if err := p.Emit(context.Background(), r); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestEmitRejectsRecordMissingRequiredMetadata(t *testing.T) {
	p, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close(context.Background())

	r := record.New(record.LevelInfo, "hello", record.Metadata{})
	if err := p.Emit(context.Background(), r); err == nil {
		t.Fatal("expected validation error for missing service/environment")
	}
}

func TestCloseIsIdempotentAndDrainsResources(t *testing.T) {
	p, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if n := p.registry.Len(); n != 0 {
		t.Fatalf("expected every resource handle released after close, %d left", n)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
