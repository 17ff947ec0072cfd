package classify

import (
	"errors"
	"testing"
)

type statusErr struct {
	msg  string
	code int
}

func (e statusErr) Error() string   { return e.msg }
func (e statusErr) StatusCode() int { return e.code }

func TestClassifyOrderedRules(t *testing.T) {
	cases := []struct {
		name string
		err  error
		ctx  Context
		want Category
	}{
		{"network", errors.New("dial tcp: connection refused"), Context{}, CategoryNetwork},
		{"timeout", errors.New("request timed out"), Context{}, CategoryTimeout},
		{"serialization", errors.New("failed to parse json"), Context{}, CategorySerialization},
		{"validation", errors.New("schema validation failed: required field"), Context{}, CategoryValidation},
		{"configuration", errors.New("invalid configuration: missing key"), Context{}, CategoryConfiguration},
		{"transport", errors.New("transport write failed"), Context{TransportName: "otlp"}, CategoryTransport},
		{"resource", errors.New("out of disk space"), Context{}, CategoryResource},
		{"auth-msg", errors.New("unauthorized access"), Context{}, CategoryAuthentication},
		{"auth-code", statusErr{"denied", 401}, Context{}, CategoryAuthentication},
		{"ratelimit-msg", errors.New("rate limit exceeded"), Context{}, CategoryRateLimit},
		{"ratelimit-code", statusErr{"too many", 429}, Context{}, CategoryRateLimit},
		{"unknown", errors.New("something odd happened"), Context{}, CategoryUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.err, c.ctx)
			if got.Category != c.want {
				t.Fatalf("Classify(%q) category = %q, want %q", c.err, got.Category, c.want)
			}
		})
	}
}

func TestClassifyRetryability(t *testing.T) {
	if Classify(errors.New("invalid configuration"), Context{}).IsRetryable() {
		t.Fatal("configuration errors must not be retryable")
	}
	if Classify(statusErr{"not found", 404}, Context{}).IsRetryable() {
		t.Fatal("404 must not be retryable")
	}
	if !Classify(errors.New("connection refused"), Context{}).IsRetryable() {
		t.Fatal("network errors should be retryable")
	}
}

func TestClassifySeverityDefaults(t *testing.T) {
	if got := Classify(errors.New("invalid config"), Context{}).Severity; got != SeverityCritical {
		t.Fatalf("configuration severity = %q, want critical", got)
	}
	if got := Classify(errors.New("schema required field missing"), Context{}).Severity; got != SeverityHigh {
		t.Fatalf("validation severity = %q, want high", got)
	}
	if got := Classify(errors.New("something odd"), Context{}).Severity; got != SeverityLow {
		t.Fatalf("unknown severity = %q, want low", got)
	}
}

func TestClassifyWraps(t *testing.T) {
	base := errors.New("connection refused")
	ce := Classify(base, Context{})
	if !errors.Is(ce, base) {
		t.Fatal("CategorizedError should unwrap to the original error")
	}
}
