// Package health implements HealthMonitor and the failover chain that
// routes a batch through a primary sink and its configured fallbacks
// (spec.md §4.8). Grounded on the teacher's internal/report package for the
// "rolling counters behind a mutex" shape, generalized to a per-sink table.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smedrec/logpipe/internal/obslog"
	"github.com/smedrec/logpipe/internal/record"
)

// Sender is the subset of TransportWrapper's API the monitor dispatches
// through; kept narrow to avoid importing internal/transport here.
type Sender interface {
	Name() string
	Send(ctx context.Context, batch record.Batch) error
	IsHealthy(ctx context.Context) error
}

const responseTimeWindow = 32

// TransportHealth is the per-sink health record (spec.md §3).
type TransportHealth struct {
	SinkName            string
	Healthy             bool
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	LastSuccess         time.Time
	LastFailure         time.Time
	AvgResponseTime     time.Duration
}

type perSink struct {
	mu sync.Mutex

	name                string
	healthy             bool
	consecutiveFailures int
	consecutiveSuccess  int
	lastSuccess         time.Time
	lastFailure         time.Time

	responseTimes [responseTimeWindow]time.Duration
	rtCount       int
	rtNext        int
}

func (p *perSink) recordResponseTime(d time.Duration) {
	p.responseTimes[p.rtNext] = d
	p.rtNext = (p.rtNext + 1) % responseTimeWindow
	if p.rtCount < responseTimeWindow {
		p.rtCount++
	}
}

func (p *perSink) avgResponseTime() time.Duration {
	if p.rtCount == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.rtCount; i++ {
		sum += p.responseTimes[i]
	}
	return sum / time.Duration(p.rtCount)
}

func (p *perSink) snapshot() TransportHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TransportHealth{
		SinkName:            p.name,
		Healthy:             p.healthy,
		ConsecutiveFailures: p.consecutiveFailures,
		ConsecutiveSuccess:  p.consecutiveSuccess,
		LastSuccess:         p.lastSuccess,
		LastFailure:         p.lastFailure,
		AvgResponseTime:     p.avgResponseTime(),
	}
}

// Config tunes the probe loop and failover depth (spec.md §6's health and
// fallback blocks).
type Config struct {
	CheckInterval      time.Duration
	FailureThreshold   int
	RecoveryThreshold  int
	AutoRecovery       bool
	SendTimeout        time.Duration
	FallbackEnabled    bool
	FallbackChain      []string
	MaxFallbackDepth   int
}

// Result is sendWithFailover's outcome.
type Result struct {
	Success bool
	UsedSink string
	Err     error
}

// Monitor tracks per-sink health and drives the failover chain. It holds
// weak references to the senders it monitors: it never owns their
// lifecycle (spec.md §3's ownership rule).
type Monitor struct {
	cfg     Config
	senders map[string]Sender
	health  map[string]*perSink
	mu      sync.RWMutex
	log     obslog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics       *Metrics
	probeFailures prometheus.Counter
	probeSuccess  prometheus.Counter
}

// Metrics returns the monitor's prometheus.Collector-backed metrics, for
// wiring into a TransportWrapper as its MetricsRecorder.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// New builds a Monitor and starts its background probe loop.
func New(cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxFallbackDepth <= 0 {
		cfg.MaxFallbackDepth = len(cfg.FallbackChain) + 1
	}
	m := &Monitor{
		cfg:     cfg,
		senders: make(map[string]Sender),
		health:  make(map[string]*perSink),
		log:     obslog.Default().With("component", "health"),
		stop:    make(chan struct{}),
		metrics: NewMetrics(),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logpipe_health_probe_failures_total",
			Help: "Total failed background health probes across all sinks.",
		}),
		probeSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logpipe_health_probe_success_total",
			Help: "Total successful background health probes across all sinks.",
		}),
	}
	m.wg.Add(1)
	go m.probeLoop()
	return m
}

// Collectors returns the prometheus.Collectors this monitor exposes, for
// registration by the pipeline.
func (m *Monitor) Collectors() []prometheus.Collector {
	cs := []prometheus.Collector{m.probeFailures, m.probeSuccess}
	return append(cs, m.metrics.Collectors()...)
}

// Register adds s to the monitored set, initially marked healthy.
func (m *Monitor) Register(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[s.Name()] = s
	m.health[s.Name()] = &perSink{name: s.Name(), healthy: true}
}

// Unregister removes s from the monitored set.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.senders, name)
	delete(m.health, name)
}

func (m *Monitor) entry(name string) *perSink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health[name]
}

// RecordSuccess updates name's rolling counters after a successful send.
// Satisfies transport.HealthRecorder.
func (m *Monitor) RecordSuccess(name string, responseTime time.Duration) {
	p := m.entry(name)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.consecutiveFailures = 0
	p.consecutiveSuccess++
	p.lastSuccess = time.Now()
	p.recordResponseTime(responseTime)
	if !p.healthy && p.consecutiveSuccess >= m.recoveryThreshold() {
		p.healthy = true
	}
	p.mu.Unlock()
}

// RecordFailure updates name's rolling counters after a failed send.
// Satisfies transport.HealthRecorder.
func (m *Monitor) RecordFailure(name string, _ error) {
	p := m.entry(name)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.consecutiveSuccess = 0
	p.consecutiveFailures++
	p.lastFailure = time.Now()
	if p.consecutiveFailures >= m.failureThreshold() {
		p.healthy = false
	}
	p.mu.Unlock()
}

func (m *Monitor) failureThreshold() int {
	if m.cfg.FailureThreshold > 0 {
		return m.cfg.FailureThreshold
	}
	return 3
}

func (m *Monitor) recoveryThreshold() int {
	if m.cfg.RecoveryThreshold > 0 {
		return m.cfg.RecoveryThreshold
	}
	return 2
}

// Snapshot returns name's current TransportHealth, ok=false if unknown.
func (m *Monitor) Snapshot(name string) (TransportHealth, bool) {
	p := m.entry(name)
	if p == nil {
		return TransportHealth{}, false
	}
	return p.snapshot(), true
}

// IsHealthy reports name's last-known health, true if unregistered.
func (m *Monitor) IsHealthy(name string) bool {
	p := m.entry(name)
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// probeLoop periodically calls IsHealthy on every registered sender and
// feeds the result into the same per-sink counters as a real send outcome:
// a failed probe goes through RecordFailure; a healthy probe counts toward
// the recovery threshold and, with AutoRecovery, decrements the failure
// counter (spec.md §4.8).
func (m *Monitor) probeLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runProbes()
		}
	}
}

func (m *Monitor) runProbes() {
	m.mu.RLock()
	targets := make(map[string]Sender, len(m.senders))
	for k, v := range m.senders {
		targets[k] = v
	}
	m.mu.RUnlock()

	for name, s := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
		err := s.IsHealthy(ctx)
		cancel()
		if err != nil {
			m.probeFailures.Inc()
			m.RecordFailure(name, err)
			continue
		}
		m.probeSuccess.Inc()
		p := m.entry(name)
		if p != nil {
			p.mu.Lock()
			p.consecutiveSuccess++
			if m.cfg.AutoRecovery && p.consecutiveFailures > 0 {
				p.consecutiveFailures--
			}
			if !p.healthy && p.consecutiveSuccess >= m.recoveryThreshold() {
				p.healthy = true
			}
			p.mu.Unlock()
		}
	}
}

// Stop halts the background probe loop. Calling it again is a no-op.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// buildChain assembles [primary] ++ fallbackChain, excluding primary and
// duplicates, truncated to maxFallbackDepth (spec.md §4.8 step 1).
func (m *Monitor) buildChain(primary string) []string {
	seen := map[string]bool{primary: true}
	chain := []string{primary}
	if m.cfg.FallbackEnabled {
		for _, name := range m.cfg.FallbackChain {
			if seen[name] {
				continue
			}
			seen[name] = true
			chain = append(chain, name)
		}
	}
	if len(chain) > m.cfg.MaxFallbackDepth {
		chain = chain[:m.cfg.MaxFallbackDepth]
	}
	return chain
}

// SendWithFailover routes batch through primary and, on failure, its
// configured fallback chain, per spec.md §4.8.
func (m *Monitor) SendWithFailover(ctx context.Context, primary string, batch record.Batch) Result {
	chain := m.buildChain(primary)

	var lastErr error
	for i, name := range chain {
		last := i == len(chain)-1

		m.mu.RLock()
		s, ok := m.senders[name]
		m.mu.RUnlock()
		if !ok {
			lastErr = errUnknownSink(name)
			continue
		}

		if !last && !m.IsHealthy(name) {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		start := time.Now()
		err := s.Send(sendCtx, batch)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			m.RecordSuccess(name, elapsed)
			m.metrics.ObserveSend(name, true)
			m.metrics.ObserveResponseTime(name, elapsed)
			return Result{Success: true, UsedSink: name}
		}
		m.RecordFailure(name, err)
		m.metrics.ObserveSend(name, false)
		lastErr = err
		if last {
			return Result{Success: false, UsedSink: name, Err: lastErr}
		}
	}
	return Result{Success: false, Err: lastErr}
}

type unknownSinkError string

func (e unknownSinkError) Error() string { return "health: unknown sink " + string(e) }

func errUnknownSink(name string) error { return unknownSinkError(name) }
