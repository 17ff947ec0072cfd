package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smedrec/logpipe/internal/breaker"
)

// Metrics is the prometheus.Collector surface HealthMonitor and
// TransportWrapper publish per sink (spec.md §3.2): send outcomes, retry
// counts, circuit-breaker state, and response-time distribution. Adapted
// from the teacher's internal/report package, which tracked the same
// categories of counter (written/failed, retry totals, stage timings) but
// rendered them through a hand-rolled Prometheus text exposer; here the
// counters are real client_golang collectors that a façade can register
// directly with an http.Handler.
type Metrics struct {
	sendsTotal   *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	responseTime *prometheus.HistogramVec
}

// NewMetrics builds an unregistered Metrics instance; register its
// Collectors() with whatever prometheus.Registerer the façade uses.
func NewMetrics() *Metrics {
	return &Metrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipe_sink_sends_total",
			Help: "Total send attempts per sink, labeled by outcome.",
		}, []string{"sink", "result"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipe_sink_retries_total",
			Help: "Total retry attempts per sink.",
		}, []string{"sink"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logpipe_circuit_state",
			Help: "Circuit breaker state per sink: 0=closed, 1=halfOpen, 2=open.",
		}, []string{"sink"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logpipe_sink_response_seconds",
			Help:    "Sink send response time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
	}
}

// Collectors returns every collector this Metrics instance owns.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.sendsTotal, m.retriesTotal, m.circuitState, m.responseTime}
}

// ObserveSend records a send outcome for sinkName. Called by
// Monitor.SendWithFailover; it is not part of transport.MetricsRecorder.
func (m *Metrics) ObserveSend(sinkName string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.sendsTotal.WithLabelValues(sinkName, result).Inc()
}

// ObserveRetry records one retry attempt for sinkName. Satisfies
// transport.MetricsRecorder.
func (m *Metrics) ObserveRetry(sinkName string) {
	m.retriesTotal.WithLabelValues(sinkName).Inc()
}

// ObserveResponseTime records a completed send's latency for sinkName.
func (m *Metrics) ObserveResponseTime(sinkName string, d time.Duration) {
	m.responseTime.WithLabelValues(sinkName).Observe(d.Seconds())
}

// SetCircuitState publishes sinkName's current breaker state. Satisfies
// transport.MetricsRecorder.
func (m *Metrics) SetCircuitState(sinkName string, state breaker.State) {
	var v float64
	switch state {
	case breaker.StateClosed:
		v = 0
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	m.circuitState.WithLabelValues(sinkName).Set(v)
}
