// Package otlp implements the OTLP/HTTP logs sink: builds an
// ExportLogsServiceRequest from LogRecords and POSTs it as protobuf-JSON
// (spec.md §4.10). Grounded on the teacher's internal/sink/http.go HTTPSink
// (client/url shape, ErrWriteSink wrapping), with the retry loop removed
// since TransportWrapper now owns retries, and its one-shot Write()
// replaced by a batch Send() against the OTLP wire format.
package otlp

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	collpb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/sink"
)

// defaultCompressionThreshold is the serialized-request size above which
// the request body is gzip-compressed, when Config.CompressionThreshold
// is left at zero (spec.md §4.10): gzip triggers strictly above this
// many bytes.
const defaultCompressionThreshold = 1024

// Config mirrors spec.md §6's otlp transport block.
type Config struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	// CompressionThreshold overrides defaultCompressionThreshold when
	// positive.
	CompressionThreshold int
}

// Sink POSTs OTLP/HTTP JSON-encoded ExportLogsServiceRequest payloads.
type Sink struct {
	name                 string
	cfg                  Config
	client               *http.Client
	service              string
	env                  string
	compressionThreshold int
}

// New builds an otlp Sink. service/env populate the Resource attributes
// attached to every exported ResourceLogs.
func New(name string, cfg Config, service, env string) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint required for otlp sink", sink.ErrOpenSink)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	threshold := cfg.CompressionThreshold
	if threshold <= 0 {
		threshold = defaultCompressionThreshold
	}
	return &Sink{
		name:                 name,
		cfg:                  cfg,
		client:               &http.Client{Timeout: cfg.Timeout},
		service:              service,
		env:                  env,
		compressionThreshold: threshold,
	}, nil
}

func (s *Sink) Name() string { return s.name }

// statusError lets classify.Classify read the HTTP status via
// classify.StatusCoder.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string      { return fmt.Sprintf("otlp http status %d: %s", e.code, e.body) }
func (e *statusError) StatusCode() int    { return e.code }

// Send builds and POSTs an ExportLogsServiceRequest for batch.
func (s *Sink) Send(ctx context.Context, batch record.Batch) error {
	req := s.buildRequest(batch)
	payload, err := protojson.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: marshal otlp request: %v", sink.ErrWriteSink, err)
	}

	var body io.Reader = bytes.NewReader(payload)
	gzipped := len(payload) > s.compressionThreshold
	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("%w: gzip otlp request: %v", sink.ErrWriteSink, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("%w: gzip otlp request: %v", sink.ErrWriteSink, err)
		}
		body = &buf
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: build otlp request: %v", sink.ErrWriteSink, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if gzipped {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range s.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: otlp request failed: %v", sink.ErrWriteSink, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{code: resp.StatusCode, body: string(respBody)}
}

func (s *Sink) buildRequest(batch record.Batch) *collpb.ExportLogsServiceRequest {
	logRecords := make([]*logspb.LogRecord, 0, len(batch.Records))
	for _, r := range batch.Records {
		logRecords = append(logRecords, toOTLPRecord(r))
	}

	return &collpb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: &resourcepb.Resource{
					Attributes: []*commonpb.KeyValue{
						stringKV("service.name", s.service),
						stringKV("deployment.environment", s.env),
					},
				},
				ScopeLogs: []*logspb.ScopeLogs{
					{
						Scope:      &commonpb.InstrumentationScope{Name: "logpipe"},
						LogRecords: logRecords,
					},
				},
			},
		},
	}
}

func toOTLPRecord(r record.LogRecord) *logspb.LogRecord {
	attrs := make([]*commonpb.KeyValue, 0, len(r.Fields)+16)
	if r.ID != "" {
		attrs = append(attrs, stringKV("log.record.uid", r.ID))
	}
	if r.Source != "" {
		attrs = append(attrs, stringKV("log.source", r.Source))
	}
	if r.Version != "" {
		attrs = append(attrs, stringKV("log.version", r.Version))
	}
	if r.CorrelationID != "" {
		attrs = append(attrs, stringKV("correlation.id", r.CorrelationID))
	}
	if r.RequestID != "" {
		attrs = append(attrs, stringKV("request.id", r.RequestID))
	}
	if r.Metadata.Service != "" {
		attrs = append(attrs, stringKV("metadata.service", r.Metadata.Service))
	}
	if r.Metadata.Environment != "" {
		attrs = append(attrs, stringKV("metadata.environment", r.Metadata.Environment))
	}
	if r.Metadata.Hostname != "" {
		attrs = append(attrs, stringKV("host.name", r.Metadata.Hostname))
	}
	if r.Metadata.PID != 0 {
		attrs = append(attrs, intKV("process.pid", int64(r.Metadata.PID)))
	}
	if req := r.Metadata.Request; req != nil {
		if req.Method != "" {
			attrs = append(attrs, stringKV("request.method", req.Method))
		}
		if req.Path != "" {
			attrs = append(attrs, stringKV("request.path", req.Path))
		}
		if req.StatusCode != 0 {
			attrs = append(attrs, intKV("request.statusCode", int64(req.StatusCode)))
		}
		if req.DurationMs != 0 {
			attrs = append(attrs, doubleKV("request.durationMs", req.DurationMs))
		}
		if req.RemoteAddr != "" {
			attrs = append(attrs, stringKV("request.remoteAddr", req.RemoteAddr))
		}
	}
	if db := r.Metadata.Database; db != nil {
		if db.Operation != "" {
			attrs = append(attrs, stringKV("database.operation", db.Operation))
		}
		if db.Table != "" {
			attrs = append(attrs, stringKV("database.table", db.Table))
		}
		if db.DurationMs != 0 {
			attrs = append(attrs, doubleKV("database.durationMs", db.DurationMs))
		}
		if db.RowCount != 0 {
			attrs = append(attrs, intKV("database.rowCount", int64(db.RowCount)))
		}
	}
	if sec := r.Metadata.Security; sec != nil {
		if sec.Event != "" {
			attrs = append(attrs, stringKV("security.event", sec.Event))
		}
		if sec.Severity != "" {
			attrs = append(attrs, stringKV("security.severity", sec.Severity))
		}
		if sec.Actor != "" {
			attrs = append(attrs, stringKV("security.actor", sec.Actor))
		}
	}
	if perf := r.Performance; perf != nil {
		if perf.CPUUsage != 0 {
			attrs = append(attrs, doubleKV("performance.cpuUsage", perf.CPUUsage))
		}
		if perf.MemoryUsage != 0 {
			attrs = append(attrs, doubleKV("performance.memoryUsage", perf.MemoryUsage))
		}
		if perf.DurationMs != 0 {
			attrs = append(attrs, doubleKV("performance.duration", perf.DurationMs))
		}
		if perf.OperationCount != 0 {
			attrs = append(attrs, intKV("performance.operationCount", perf.OperationCount))
		}
	}
	for k, v := range r.Fields {
		attrs = append(attrs, stringKV(k, fmt.Sprintf("%v", v)))
	}

	var traceID, spanID []byte
	if r.TraceID != "" {
		traceID = []byte(r.TraceID)
	}
	if r.SpanID != "" {
		spanID = []byte(r.SpanID)
	}

	return &logspb.LogRecord{
		TimeUnixNano:         uint64(r.Timestamp.UnixNano()),
		ObservedTimeUnixNano: uint64(time.Now().UnixNano()),
		SeverityNumber:       logspb.SeverityNumber(r.Level.SeverityNumber()),
		SeverityText:         string(r.Level),
		Body:                 &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: r.Message}},
		Attributes:           attrs,
		TraceId:              traceID,
		SpanId:               spanID,
	}
}

func stringKV(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}

func intKV(k string, v int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: v}}}
}

func doubleKV(k string, v float64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: v}}}
}

// IsHealthy sends a lightweight HEAD probe to the endpoint.
func (s *Sink) IsHealthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build health probe: %v", sink.ErrOpenSink, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health probe failed: %v", sink.ErrOpenSink, err)
	}
	resp.Body.Close()
	return nil
}

// Flush is a no-op: every Send call is already a synchronous POST.
func (s *Sink) Flush(ctx context.Context) error { return nil }

// Close releases idle HTTP connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
