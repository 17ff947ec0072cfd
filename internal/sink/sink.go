// Package sink defines the shared Sink interface every concrete transport
// (console, file, otlp, redis) implements, and the sentinel errors they
// report — kept separate from the implementations so TransportWrapper and
// HealthMonitor can depend on the interface without importing any
// concrete sink package (avoids import cycles, mirrors the teacher's
// sink.Writer abstraction in internal/sink/jsonl.go).
package sink

import (
	"context"
	"errors"

	"github.com/smedrec/logpipe/internal/record"
)

// Sink is the destination-facing contract every TransportWrapper wraps.
type Sink interface {
	// Name identifies the sink for policy lookup, logging, and metrics.
	Name() string
	// Send delivers a batch; implementations should not retry internally,
	// that's the TransportWrapper's job.
	Send(ctx context.Context, batch record.Batch) error
	// IsHealthy is consulted by the HealthMonitor's probe loop.
	IsHealthy(ctx context.Context) error
	// Flush ensures buffered state (if any) is durable.
	Flush(ctx context.Context) error
	// Close releases the sink's resources; must be idempotent.
	Close() error
}

var (
	// ErrOpenSink indicates a failure to open or initialize a sink.
	ErrOpenSink = errors.New("open sink")
	// ErrWriteSink indicates a failure while writing a batch.
	ErrWriteSink = errors.New("write sink")
	// ErrRotateSink indicates a failure while rotating an output file.
	ErrRotateSink = errors.New("rotate sink")
)
