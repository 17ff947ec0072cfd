// Package console implements the stdout sink: the fallback-of-last-resort
// every fallback chain typically ends with (spec.md §4.12). Grounded on the
// teacher's internal/sink/jsonl.go JSONLSink, generalized from a bare
// io.WriteCloser wrapper to a serializer-backed sink.Sink.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/sink"
)

// Sink writes one JSON line per record to an io.Writer, stdout by default.
// It has no further fallback and is never itself considered unhealthy: a
// write failure to the process's own stdout is not something a fallback
// chain can recover from.
type Sink struct {
	mu   sync.Mutex
	w    io.Writer
	ser  *record.Serializer
	name string
}

// New builds a console Sink writing to w (os.Stdout if nil).
func New(name string, w io.Writer, ser *record.Serializer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{name: name, w: w, ser: ser}
}

func (s *Sink) Name() string { return s.name }

// Send writes every record in batch as one JSON line, in order.
func (s *Sink) Send(ctx context.Context, batch record.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range batch.Records {
		line := s.ser.Serialize(r)
		if _, err := s.w.Write(line); err != nil {
			return fmt.Errorf("%w: %v", sink.ErrWriteSink, err)
		}
	}
	return nil
}

// IsHealthy always succeeds: stdout is assumed always writable.
func (s *Sink) IsHealthy(ctx context.Context) error { return nil }

// Flush is a no-op: writes are unbuffered.
func (s *Sink) Flush(ctx context.Context) error { return nil }

// Close is a no-op: the console sink does not own stdout's lifecycle.
func (s *Sink) Close() error { return nil }
