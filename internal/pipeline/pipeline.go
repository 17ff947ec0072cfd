// Package pipeline wires BatchManager, TransportWrapper, and HealthMonitor
// into the minimal façade the CORE exposes: Emit, Flush, Close (spec.md
// §4.14). This is new — the teacher has no equivalent wiring point since it
// runs a single-pass batch ETL rather than a long-lived dispatch pipeline —
// but it follows the teacher's cmd/etl/main.go convention of building every
// collaborator up front and closing them in reverse order on shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smedrec/logpipe/internal/batch"
	"github.com/smedrec/logpipe/internal/breaker"
	"github.com/smedrec/logpipe/internal/config"
	"github.com/smedrec/logpipe/internal/health"
	"github.com/smedrec/logpipe/internal/obslog"
	"github.com/smedrec/logpipe/internal/ratelimit"
	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/registry"
	"github.com/smedrec/logpipe/internal/retry"
	"github.com/smedrec/logpipe/internal/sink"
	"github.com/smedrec/logpipe/internal/sink/console"
	"github.com/smedrec/logpipe/internal/sink/file"
	"github.com/smedrec/logpipe/internal/sink/otlp"
	"github.com/smedrec/logpipe/internal/sink/redis"
	"github.com/smedrec/logpipe/internal/transport"
)

// transportEntry bundles one configured sink's collaborators.
type transportEntry struct {
	name    string
	wrapper *transport.TransportWrapper
	manager *batch.Manager
}

// Pipeline is the dispatch engine's entry point: Emit buffers a record into
// its transport's BatchManager; BatchManager triggers hand batches to
// HealthMonitor's failover chain.
type Pipeline struct {
	cfg      config.Config
	ser      *record.Serializer
	health   *health.Monitor
	registry *registry.Registry
	log      obslog.Logger

	entries map[string]*transportEntry
	primary string
}

// New builds every configured transport's TransportWrapper and BatchManager,
// and a shared HealthMonitor, per spec.md §4.14.
func New(cfg config.Config, onError transport.ErrorHandler) (*Pipeline, error) {
	ser, err := record.NewSerializer(cfg.Masking.Patterns, cfg.Masking.PreserveLength, maskingChar(cfg.Masking.MaskingChar))
	if err != nil {
		return nil, fmt.Errorf("build serializer: %w", err)
	}

	hm := health.New(health.Config{
		CheckInterval:     millis(cfg.Health.CheckIntervalMS),
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryThreshold: cfg.Health.RecoveryThreshold,
		AutoRecovery:      cfg.Health.AutoRecovery,
		SendTimeout:       millis(cfg.Health.SendTimeoutMS),
		FallbackEnabled:   cfg.Fallback.Enable,
		FallbackChain:     cfg.Fallback.Chain,
		MaxFallbackDepth:  cfg.Fallback.MaxDepth,
	})

	reg := registry.New()
	limiter := ratelimit.New(cfg.Performance.MaxErrorsPerMinute, fallbackFloat(cfg.Performance.OverflowPerSecond, 50))
	table := buildRetryTable(cfg.Retry)

	p := &Pipeline{
		cfg:      cfg,
		ser:      ser,
		health:   hm,
		registry: reg,
		log:      obslog.Default().With("component", "pipeline"),
		entries:  make(map[string]*transportEntry),
	}

	for _, tc := range cfg.Transports {
		if !tc.Enabled {
			continue
		}
		s, err := buildSink(tc, cfg, ser)
		if err != nil {
			return nil, fmt.Errorf("build transport %q: %w", tc.Name, err)
		}
		reg.Register(tc.Name, s)

		br := breaker.New(fallbackInt(cfg.Circuit.FailureThreshold, 5), millis(cfg.Circuit.CooldownMS))
		// health is nil here: HealthMonitor.SendWithFailover records the
		// outcome at the chain level once the wrapper returns, so the
		// wrapper itself must not double-record through its own
		// HealthRecorder hook.
		wrapper := transport.New(s, table.Lookup(tc.Name), br, limiter, nil, hm.Metrics(), onError)
		mgr := batch.New(tc.Name, batch.Config{
			MaxSize:        cfg.Batch.MaxSize,
			Timeout:        millis(cfg.Batch.TimeoutMS),
			MaxConcurrency: cfg.Batch.MaxConcurrency,
			MaxQueueSize:   cfg.Batch.MaxQueueSize,
		}, p.processorFor(tc.Name))

		p.entries[tc.Name] = &transportEntry{name: tc.Name, wrapper: wrapper, manager: mgr}
		hm.Register(wrapper)
		if p.primary == "" {
			p.primary = tc.Name
		}
	}

	return p, nil
}

// Collectors returns every prometheus.Collector the pipeline's health
// monitor and per-sink metrics expose, for registration by whatever
// façade runs an HTTP /metrics endpoint (spec.md §3.2).
func (p *Pipeline) Collectors() []prometheus.Collector {
	return p.health.Collectors()
}

func (p *Pipeline) processorFor(name string) batch.Processor {
	return func(ctx context.Context, b record.Batch) error {
		res := p.health.SendWithFailover(ctx, name, b)
		if !res.Success {
			return res.Err
		}
		return nil
	}
}

// ErrValidation is returned by Emit when a record fails basic invariants.
var ErrValidation = errors.New("pipeline: validation")

// Emit validates r's required fields and enqueues it on its transport's
// BatchManager. The first enabled transport is treated as primary for
// records that don't otherwise name one.
func (p *Pipeline) Emit(ctx context.Context, r record.LogRecord) error {
	if r.Metadata.Service == "" || r.Metadata.Environment == "" {
		return fmt.Errorf("%w: service and environment are required", ErrValidation)
	}
	entry, ok := p.entries[p.primary]
	if !ok {
		return fmt.Errorf("no enabled transport configured")
	}
	return entry.manager.Add(r)
}

// Flush forces every transport's BatchManager to emit and wait for its
// in-flight batches.
func (p *Pipeline) Flush(ctx context.Context) error {
	var firstErr error
	for _, e := range p.entries {
		if err := e.manager.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close drains every BatchManager, stops the health monitor, and releases
// every registered resource handle.
func (p *Pipeline) Close(ctx context.Context) error {
	for _, e := range p.entries {
		e.manager.Close()
	}
	p.health.Stop()
	errs := p.registry.CloseAll()
	if len(errs) > 0 {
		return fmt.Errorf("close: %d resource(s) failed to close, first: %w", len(errs), errs[0])
	}
	return nil
}

func buildSink(tc config.TransportConfig, cfg config.Config, ser *record.Serializer) (sink.Sink, error) {
	switch tc.Type {
	case "console":
		return console.New(tc.Name, nil, ser), nil
	case "file":
		if tc.File == nil {
			return nil, fmt.Errorf("missing file config")
		}
		return file.New(tc.Name, file.Config{
			Path:             tc.File.Path,
			MaxSize:          tc.File.MaxSizeBytes,
			RotationInterval: file.RotationInterval(tc.File.RotationInterval),
			Gzip:             tc.File.Gzip,
			RetentionDays:    tc.File.RetentionDays,
			MaxFiles:         tc.File.MaxFiles,
		}, ser)
	case "otlp":
		if tc.Otlp == nil {
			return nil, fmt.Errorf("missing otlp config")
		}
		return otlp.New(tc.Name, otlp.Config{
			Endpoint:             tc.Otlp.Endpoint,
			Headers:              tc.Otlp.Headers,
			Timeout:              millis(tc.Otlp.TimeoutMS),
			CompressionThreshold: tc.Otlp.CompressionThresholdBytes,
		}, cfg.Service, cfg.Environment)
	case "redis":
		if tc.Redis == nil {
			return nil, fmt.Errorf("missing redis config")
		}
		return redis.New(tc.Name, redis.Config{
			Addr:      tc.Redis.Addr,
			Password:  tc.Redis.Password,
			DB:        tc.Redis.DB,
			Mode:      redis.Mode(tc.Redis.Mode),
			KeyPrefix: tc.Redis.KeyPrefix,
			ListName:  tc.Redis.ListName,
			Stream:    tc.Redis.Stream,
			Channel:   tc.Redis.Channel,
			TTL:       time.Duration(tc.Redis.TTLSec) * time.Second,
		}, ser)
	default:
		return nil, fmt.Errorf("unknown transport type %q", tc.Type)
	}
}

func buildRetryTable(overrides []config.RetryOverride) *retry.Table {
	t := retry.NewTable()
	for _, o := range overrides {
		t.Set(o.Sink, retry.Policy{
			MaxAttempts:  o.MaxAttempts,
			InitialDelay: millis(o.InitialMS),
			MaxDelay:     millis(o.MaxMS),
			Multiplier:   o.Multiplier,
			Jitter:       millis(o.JitterMS),
		})
	}
	return t
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func fallbackInt(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

func fallbackFloat(n, def float64) float64 {
	if n > 0 {
		return n
	}
	return def
}

func maskingChar(s string) rune {
	if s == "" {
		return '*'
	}
	return []rune(s)[0]
}
