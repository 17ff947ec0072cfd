package breaker

import (
	"testing"
	"time"
)

func TestOpensAtNthFailureNotBefore(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 2; i++ {
		if !b.CanExecute() {
			t.Fatalf("expected closed breaker to admit call %d", i)
		}
		b.OnFailure()
	}
	if b.Snapshot().State != StateClosed {
		t.Fatalf("breaker should still be closed after 2 failures, got %s", b.Snapshot().State)
	}
	b.OnFailure() // 3rd consecutive failure
	if b.Snapshot().State != StateOpen {
		t.Fatalf("breaker should be open after 3rd failure, got %s", b.Snapshot().State)
	}
	if b.CanExecute() {
		t.Fatal("open breaker should reject calls before cooldown")
	}
}

func TestHalfOpenRecoversOnSuccess(t *testing.T) {
	clock := time.Now()
	b := New(1, 10*time.Millisecond).withClock(func() time.Time { return clock })
	b.OnFailure()
	if b.Snapshot().State != StateOpen {
		t.Fatal("expected open after 1 failure with threshold 1")
	}
	clock = clock.Add(20 * time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("expected half-open probe to be admitted after cooldown")
	}
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.Snapshot().State)
	}
	b.OnSuccess()
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.Snapshot().State)
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	clock := time.Now()
	b := New(1, 10*time.Millisecond).withClock(func() time.Time { return clock })
	b.OnFailure()
	clock = clock.Add(20 * time.Millisecond)
	b.CanExecute()
	b.OnFailure()
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.Snapshot().State)
	}
}

func TestOnlyOneProbeAdmittedDuringHalfOpen(t *testing.T) {
	clock := time.Now()
	b := New(1, 10*time.Millisecond).withClock(func() time.Time { return clock })
	b.OnFailure()
	clock = clock.Add(20 * time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("first probe should be admitted")
	}
	if b.CanExecute() {
		t.Fatal("second concurrent probe should be rejected while first is in flight")
	}
}
