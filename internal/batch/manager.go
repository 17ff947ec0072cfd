// Package batch implements BatchManager: buffers LogRecords until a
// size/timeout trigger fires, then hands the batch to a processor under a
// concurrency cap (spec.md §4.2). Grounded on the teacher's
// internal/sink/batched.go buffer+ticker pattern, extended with queue and
// concurrency caps and explicit Close/Flush semantics.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smedrec/logpipe/internal/obslog"
	"github.com/smedrec/logpipe/internal/record"
)

var (
	// ErrResourceExhausted is returned by Add when pending has reached MaxQueueSize.
	ErrResourceExhausted = errors.New("batch: resource exhausted")
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("batch: closed")
	// ErrValidation is returned by Add for a record failing basic invariants.
	ErrValidation = errors.New("batch: validation")
)

// Config mirrors spec.md §6's batch block.
type Config struct {
	MaxSize        int
	Timeout        time.Duration
	MaxConcurrency int
	MaxQueueSize   int
}

// Processor is invoked exactly once per emitted batch.
type Processor func(ctx context.Context, b record.Batch) error

// Manager buffers records and dispatches batches to a Processor.
type Manager struct {
	cfg       Config
	processor Processor
	sem       chan struct{}
	log       obslog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	current      []record.LogRecord
	pending      int
	timer        *time.Timer
	generation   uint64
	closed       bool
	overflowSeen bool

	wg sync.WaitGroup

	errMu   sync.Mutex
	lastErr error
}

// New builds a Manager. Name identifies the manager in logs (typically the
// sink name it feeds).
func New(name string, cfg Config, processor Processor) *Manager {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		processor: processor,
		sem:       make(chan struct{}, cfg.MaxConcurrency),
		log:       obslog.Default().With("component", "batch", "sink", name),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add enqueues r, triggering an emission if the batch is now full. It never
// blocks on processor I/O; queue-overflow and closed states fail fast.
func (m *Manager) Add(r record.LogRecord) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.pending >= m.cfg.MaxQueueSize {
		m.overflowSeen = true
		m.mu.Unlock()
		return ErrResourceExhausted
	}

	m.current = append(m.current, r)
	m.pending++
	gen := m.generation
	if len(m.current) == 1 {
		m.timer = time.AfterFunc(m.cfg.Timeout, func() { m.onTimeout(gen) })
	}

	var toDispatch []record.LogRecord
	if len(m.current) >= m.cfg.MaxSize {
		toDispatch = m.drainLocked()
	}
	m.mu.Unlock()

	if toDispatch != nil {
		m.dispatch(toDispatch)
	}
	return nil
}

// drainLocked must be called with mu held; it stops the pending timer and
// returns (possibly nil) the buffered records, resetting current/generation.
func (m *Manager) drainLocked() []record.LogRecord {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if len(m.current) == 0 {
		return nil
	}
	out := m.current
	m.current = nil
	m.generation++
	return out
}

func (m *Manager) onTimeout(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		// A size trigger already drained this batch; the timer fired on a
		// stale generation and has nothing to do.
		m.mu.Unlock()
		return
	}
	toDispatch := m.drainLocked()
	m.mu.Unlock()
	if toDispatch != nil {
		m.dispatch(toDispatch)
	}
}

// dispatch spawns the goroutine that waits for a concurrency slot and runs
// the processor; it decrements pending once the batch resolves.
func (m *Manager) dispatch(records []record.LogRecord) {
	b := record.Batch{Records: records}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		err := m.processor(m.ctx, b)

		m.mu.Lock()
		m.pending -= len(records)
		if m.pending < 0 {
			m.pending = 0
		}
		m.mu.Unlock()

		if err != nil {
			m.log.Warn("batch processor failed", "size", len(records), "err", err)
			m.errMu.Lock()
			m.lastErr = err
			m.errMu.Unlock()
		}
	}()
}

// Flush forces emission of the current partial batch and waits for every
// outstanding processor invocation (including ones already in flight) to
// resolve, returning the most recent processor error observed since the
// last Flush call, if any.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	toDispatch := m.drainLocked()
	m.mu.Unlock()
	if toDispatch != nil {
		m.dispatch(toDispatch)
	}

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.errMu.Lock()
	err := m.lastErr
	m.lastErr = nil
	m.errMu.Unlock()

	if err == nil {
		m.mu.Lock()
		m.overflowSeen = false
		m.mu.Unlock()
	}
	return err
}

// Close idempotently drains and rejects subsequent Add calls with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	toDispatch := m.drainLocked()
	m.mu.Unlock()

	if toDispatch != nil {
		m.dispatch(toDispatch)
	}
	m.wg.Wait()
	m.cancel()
	return nil
}

// GetPendingCount reports the number of records buffered or in flight.
func (m *Manager) GetPendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// IsHealthy is false while closing or when overflow has been observed since
// the last successful Flush.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.overflowSeen
}
