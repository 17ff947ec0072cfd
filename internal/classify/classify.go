// Package classify maps raw errors to CategorizedError values, consulted
// by every wrapper in the dispatch core.
package classify

import (
	"strings"
	"time"
)

// Category is a closed set of error categories (spec §3).
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryTimeout       Category = "timeout"
	CategorySerialization Category = "serialization"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryTransport     Category = "transport"
	CategoryResource      Category = "resource"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit     Category = "rateLimit"
	CategoryUnknown       Category = "unknown"
)

// Severity is the closed severity set (spec §3).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RecoveryStrategy is the closed recovery-strategy set (spec §3).
type RecoveryStrategy string

const (
	RecoveryRetry          RecoveryStrategy = "retry"
	RecoveryFallback       RecoveryStrategy = "fallback"
	RecoveryCircuitBreaker RecoveryStrategy = "circuitBreaker"
	RecoveryIgnore         RecoveryStrategy = "ignore"
	RecoveryFailFast       RecoveryStrategy = "failFast"
)

// Context carries the operation/transport metadata consulted by the
// classifier and recorded on the resulting CategorizedError.
type Context struct {
	Operation     string
	TransportName string
	Attempts      int
	Metadata      map[string]any
}

// StatusCoder is implemented by errors carrying an HTTP-like status code
// (e.g. the OTLP sink's transport errors).
type StatusCoder interface {
	StatusCode() int
}

// CategorizedError wraps an original error with classification results.
type CategorizedError struct {
	Original         error
	Category         Category
	Severity         Severity
	Context          Context
	Timestamp        time.Time
	RetryableFlag    bool
	RecoveryStrategy RecoveryStrategy
}

func (e *CategorizedError) Error() string {
	if e.Original == nil {
		return string(e.Category)
	}
	return e.Original.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Original }

// IsRetryable reports the classifier's retryability verdict. Per-sink
// RetryPolicyTable predicates may be stricter (spec §4.4).
func (e *CategorizedError) IsRetryable() bool { return e.RetryableFlag }

func statusCode(err error) (int, bool) {
	if sc, ok := err.(StatusCoder); ok {
		return sc.StatusCode(), true
	}
	return 0, false
}

func defaultSeverity(c Category) Severity {
	switch c {
	case CategoryConfiguration, CategoryResource:
		return SeverityCritical
	case CategoryValidation, CategorySerialization, CategoryAuthentication:
		return SeverityHigh
	case CategoryNetwork, CategoryTimeout, CategoryTransport, CategoryRateLimit:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func defaultRetryable(c Category, code int, hasCode bool) bool {
	switch c {
	case CategoryConfiguration, CategoryValidation, CategorySerialization:
		return false
	}
	if hasCode && (code == 400 || code == 401 || code == 403 || code == 404) {
		return false
	}
	return true
}

// Classify applies the ordered rule list of spec.md §4.3, first match wins.
func Classify(err error, ctx Context) *CategorizedError {
	now := time.Now()
	if err == nil {
		return &CategorizedError{
			Category:      CategoryUnknown,
			Severity:      SeverityLow,
			Context:       ctx,
			Timestamp:     now,
			RetryableFlag: true,
		}
	}

	msg := strings.ToLower(err.Error())
	code, hasCode := statusCode(err)

	category := classifyMessage(msg, ctx, code, hasCode)
	severity := defaultSeverity(category)
	retryable := defaultRetryable(category, code, hasCode)

	strategy := RecoveryRetry
	if !retryable {
		strategy = RecoveryFailFast
	}
	if category == CategoryConfiguration || category == CategoryAuthentication || severity == SeverityCritical {
		strategy = RecoveryCircuitBreaker
	}

	return &CategorizedError{
		Original:         err,
		Category:         category,
		Severity:         severity,
		Context:          ctx,
		Timestamp:        now,
		RetryableFlag:    retryable,
		RecoveryStrategy: strategy,
	}
}

func classifyMessage(msg string, ctx Context, code int, hasCode bool) Category {
	switch {
	case containsAny(msg, "network", "connection", "econnrefused", "enotfound", "etimedout"):
		return CategoryNetwork
	case containsAny(msg, "timeout", "timed out"):
		return CategoryTimeout
	case containsAny(msg, "json", "parse", "serialize", "circular"):
		return CategorySerialization
	case containsAny(msg, "validation", "schema", "required"):
		return CategoryValidation
	case containsAny(msg, "config", "invalid", "missing") || strings.Contains(strings.ToLower(ctx.Operation), "config"):
		return CategoryConfiguration
	case ctx.TransportName != "" && strings.Contains(msg, "transport"):
		return CategoryTransport
	case containsAny(msg, "memory", "disk", "space", "resource"):
		return CategoryResource
	case containsAny(msg, "auth", "unauthorized", "forbidden") || (hasCode && (code == 401 || code == 403)):
		return CategoryAuthentication
	case containsAny(msg, "rate", "limit", "throttle") || (hasCode && code == 429):
		return CategoryRateLimit
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
