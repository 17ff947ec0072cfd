// Package retry holds per-sink retry parameters and the delay formula
// consulted by the TransportWrapper's attempt loop.
package retry

import (
	"math/rand"
	"time"

	"github.com/smedrec/logpipe/internal/classify"
)

// Policy mirrors spec.md §3's RetryPolicy and §4.4's per-sink predicates.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       time.Duration

	// IsRetryable may be stricter than the classifier's verdict (e.g.
	// console only retries resource errors). Nil means "defer to the
	// classifier".
	IsRetryable func(*classify.CategorizedError) bool
	// ShouldCircuitBreak decides whether a failure should end the attempt
	// loop at once, without retrying, and be counted against the breaker;
	// the breaker still opens only at its failure threshold.
	ShouldCircuitBreak func(*classify.CategorizedError) bool
	// BackoffMultiplier scales the delay for a given error category.
	BackoffMultiplier func(*classify.CategorizedError) float64
}

func defaultBackoffMultiplier(ce *classify.CategorizedError) float64 {
	switch ce.Category {
	case classify.CategoryRateLimit:
		return 3
	case classify.CategoryNetwork:
		return 2
	default:
		return 1
	}
}

func defaultShouldCircuitBreak(ce *classify.CategorizedError) bool {
	switch ce.Category {
	case classify.CategoryConfiguration, classify.CategoryAuthentication:
		return true
	}
	return ce.Severity == classify.SeverityCritical
}

// Retryable evaluates p's override if present, else the classifier result.
func (p Policy) Retryable(ce *classify.CategorizedError) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(ce)
	}
	return ce.IsRetryable()
}

// CircuitBreak evaluates p's override if present, else the default rule.
func (p Policy) CircuitBreak(ce *classify.CategorizedError) bool {
	if p.ShouldCircuitBreak != nil {
		return p.ShouldCircuitBreak(ce)
	}
	return defaultShouldCircuitBreak(ce)
}

// CategoryMultiplier evaluates p's override if present, else the default.
func (p Policy) CategoryMultiplier(ce *classify.CategorizedError) float64 {
	if p.BackoffMultiplier != nil {
		return p.BackoffMultiplier(ce)
	}
	return defaultBackoffMultiplier(ce)
}

// Delay computes the backoff for attempt n (1-indexed), per spec.md §4.4:
//
//	delay = min(initialDelay * multiplier^(n-1) * categoryMultiplier + uniform(0, jitter), maxDelay)
func (p Policy) Delay(n int, ce *classify.CategorizedError) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(p.InitialDelay)
	factor := pow(p.Multiplier, n-1) * p.CategoryMultiplier(ce)
	delay := base * factor
	if p.Jitter > 0 {
		delay += rand.Float64() * float64(p.Jitter)
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Table is a keyed lookup of per-sink Policy values with a "default" entry.
type Table struct {
	policies map[string]Policy
	fallback Policy
}

// NewTable builds a Table with spec.md §4.4's recommended defaults
// pre-populated; callers may override any sink via Set.
func NewTable() *Table {
	t := &Table{policies: make(map[string]Policy)}
	t.fallback = Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: 200 * time.Millisecond}
	t.Set("console", Policy{
		MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1.5, Jitter: 50 * time.Millisecond,
		IsRetryable: func(ce *classify.CategorizedError) bool { return ce.Category == classify.CategoryResource },
	})
	t.Set("file", Policy{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: 200 * time.Millisecond})
	t.Set("otlp", Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: 500 * time.Millisecond})
	t.Set("redis", Policy{MaxAttempts: 7, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Multiplier: 1.8, Jitter: 300 * time.Millisecond})
	return t
}

// Set registers a policy for a sink name.
func (t *Table) Set(name string, p Policy) { t.policies[name] = p }

// Lookup resolves a policy by exact sink name, falling back to "default".
func (t *Table) Lookup(name string) Policy {
	if p, ok := t.policies[name]; ok {
		return p
	}
	return t.fallback
}

// SetDefault overrides the fallback policy.
func (t *Table) SetDefault(p Policy) { t.fallback = p }
