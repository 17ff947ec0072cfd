package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smedrec/logpipe/internal/breaker"
	"github.com/smedrec/logpipe/internal/classify"
	"github.com/smedrec/logpipe/internal/ratelimit"
	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/retry"
)

type fakeSink struct {
	name string
	fail int32 // number of remaining calls to fail before succeeding
	n    int32
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, batch record.Batch) error {
	atomic.AddInt32(&f.n, 1)
	if atomic.LoadInt32(&f.fail) > 0 {
		atomic.AddInt32(&f.fail, -1)
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSink) IsHealthy(ctx context.Context) error { return nil }
func (f *fakeSink) Flush(ctx context.Context) error     { return nil }
func (f *fakeSink) Close() error                        { return nil }

type fakeHealth struct {
	successes, failures int32
}

func (h *fakeHealth) RecordSuccess(string, time.Duration) { atomic.AddInt32(&h.successes, 1) }
func (h *fakeHealth) RecordFailure(string, error)         { atomic.AddInt32(&h.failures, 1) }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1, Jitter: 0}
}

func TestSendSucceedsAfterTransientFailures(t *testing.T) {
	s := &fakeSink{name: "otlp", fail: 2}
	h := &fakeHealth{}
	w := New(s, fastPolicy(), breaker.New(10, time.Second), ratelimit.New(100, 1000), h, nil, nil)

	err := w.Send(context.Background(), record.Batch{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if h.successes != 1 || h.failures != 0 {
		t.Fatalf("expected 1 success 0 failures recorded, got %d/%d", h.successes, h.failures)
	}
	if s.n != 3 {
		t.Fatalf("expected 3 attempts, got %d", s.n)
	}
}

func TestSendExhaustsAttemptsAndRecordsFailure(t *testing.T) {
	s := &fakeSink{name: "otlp", fail: 100}
	h := &fakeHealth{}
	w := New(s, fastPolicy(), breaker.New(10, time.Second), ratelimit.New(100, 1000), h, nil, nil)

	err := w.Send(context.Background(), record.Batch{})
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if h.failures != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", h.failures)
	}
	if s.n != 4 {
		t.Fatalf("expected exactly MaxAttempts=4 tries, got %d", s.n)
	}
}

func TestCircuitOpenShortCircuitsSend(t *testing.T) {
	s := &fakeSink{name: "otlp"}
	br := breaker.New(1, time.Hour)
	br.OnFailure() // trips open with threshold 1
	w := New(s, fastPolicy(), br, ratelimit.New(100, 1000), &fakeHealth{}, nil, nil)

	err := w.Send(context.Background(), record.Batch{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if s.n != 0 {
		t.Fatalf("sink should never be called while circuit is open, got %d calls", s.n)
	}
}

func TestClosedTransportRejectsSend(t *testing.T) {
	s := &fakeSink{name: "otlp"}
	w := New(s, fastPolicy(), breaker.New(10, time.Second), ratelimit.New(100, 1000), &fakeHealth{}, nil, nil)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Send(context.Background(), record.Batch{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestErrorHandlerInvokedOnFailure(t *testing.T) {
	s := &fakeSink{name: "otlp", fail: 100}
	var got atomic.Value
	onError := func(ce *classify.CategorizedError) { got.Store(ce.Category) }
	w := New(s, fastPolicy(), breaker.New(10, time.Second), ratelimit.New(100, 1000), &fakeHealth{}, nil, onError)

	_ = w.Send(context.Background(), record.Batch{})
	time.Sleep(20 * time.Millisecond) // onError runs in its own goroutine
	if got.Load() != classify.CategoryNetwork {
		t.Fatalf("expected network category recorded, got %v", got.Load())
	}
}
