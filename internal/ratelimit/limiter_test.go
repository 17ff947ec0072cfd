package ratelimit

import (
	"testing"
	"time"

	"github.com/smedrec/logpipe/internal/classify"
)

func ceWith(sev classify.Severity, cat classify.Category) *classify.CategorizedError {
	return &classify.CategorizedError{Category: cat, Severity: sev}
}

func TestSuppressesAboveLimit(t *testing.T) {
	l := New(3, 1000)
	ce := ceWith(classify.SeverityMedium, classify.CategoryNetwork)
	for i := 0; i < 3; i++ {
		if !l.ShouldProcessError("otlp", ce) {
			t.Fatalf("call %d should be under limit", i)
		}
	}
	if l.ShouldProcessError("otlp", ce) {
		t.Fatal("4th call should be suppressed")
	}
}

func TestCriticalAlwaysProcessed(t *testing.T) {
	l := New(1, 1000)
	ce := ceWith(classify.SeverityCritical, classify.CategoryConfiguration)
	for i := 0; i < 10; i++ {
		if !l.ShouldProcessError("otlp", ce) {
			t.Fatal("critical errors must never be suppressed")
		}
	}
}

func TestWindowResets(t *testing.T) {
	clock := time.Now()
	l := New(1, 1000)
	l.now = func() time.Time { return clock }
	ce := ceWith(classify.SeverityMedium, classify.CategoryNetwork)

	if !l.ShouldProcessError("otlp", ce) {
		t.Fatal("first call should pass")
	}
	if l.ShouldProcessError("otlp", ce) {
		t.Fatal("second call in same window should be suppressed")
	}
	clock = clock.Add(61 * time.Second)
	if !l.ShouldProcessError("otlp", ce) {
		t.Fatal("call in new window should pass again")
	}
}

func TestKeyedPerSinkAndCategory(t *testing.T) {
	l := New(1, 1000)
	netErr := ceWith(classify.SeverityMedium, classify.CategoryNetwork)
	toErr := ceWith(classify.SeverityMedium, classify.CategoryTimeout)

	if !l.ShouldProcessError("otlp", netErr) {
		t.Fatal("first network error on otlp should pass")
	}
	if !l.ShouldProcessError("otlp", toErr) {
		t.Fatal("distinct category should have its own bucket")
	}
	if !l.ShouldProcessError("file", netErr) {
		t.Fatal("distinct sink should have its own bucket")
	}
}
