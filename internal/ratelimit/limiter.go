// Package ratelimit implements the per-minute error counter keyed by
// (sink, category), plus a process-wide overflow guard (spec.md §4.6,
// SPEC_FULL.md §3.2). Each key counts errors in a fixed 60-second window
// that starts at the key's first error and restarts at the first error
// after it expires; it is not a sliding window, so errors just before and
// just after a window boundary are counted in different windows.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smedrec/logpipe/internal/classify"
)

const window = 60 * time.Second

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter suppresses duplicate error handling beyond maxErrorsPerMinute
// for a given (sink, category) pair, except for CRITICAL severity which
// always passes through.
type Limiter struct {
	mu                 sync.Mutex
	maxErrorsPerMinute int
	buckets            map[string]*bucket
	now                func() time.Time

	// overflow is the process-wide guard bounding total error-handling
	// CPU regardless of how many distinct (sink,category) keys appear.
	overflow *rate.Limiter
}

// New builds a Limiter. overflowPerSecond bounds the total rate of error
// handling across all sinks/categories combined.
func New(maxErrorsPerMinute int, overflowPerSecond float64) *Limiter {
	return &Limiter{
		maxErrorsPerMinute: maxErrorsPerMinute,
		buckets:            make(map[string]*bucket),
		now:                time.Now,
		overflow:           rate.NewLimiter(rate.Limit(overflowPerSecond), int(overflowPerSecond)+1),
	}
}

func key(sink string, category classify.Category) string {
	return sink + "\x00" + string(category)
}

// ShouldProcessError reports whether sink/err's handling should proceed.
// Always true for CRITICAL severity.
func (l *Limiter) ShouldProcessError(sink string, ce *classify.CategorizedError) bool {
	if ce.Severity == classify.SeverityCritical {
		return true
	}

	l.mu.Lock()
	k := key(sink, ce.Category)
	b, ok := l.buckets[k]
	now := l.now()
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: now, count: 0}
		l.buckets[k] = b
	}
	b.count++
	underLimit := l.maxErrorsPerMinute <= 0 || b.count <= l.maxErrorsPerMinute
	l.mu.Unlock()

	if !underLimit {
		return false
	}
	return l.overflow.Allow()
}
