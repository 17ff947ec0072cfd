// Package redis implements the Redis sink's three wire modes: list (LPUSH
// pipeline), stream (XADD), and pub/sub (PUBLISH) — spec.md §6's "Redis
// sink wire" summary. This is a SUPPLEMENTED component: spec.md names
// Redis in its transport type enum and retry table but never gives it a
// dedicated numbered component; grounded on the pack's go-redis/v9 usage
// and on the teacher's sink.Sink shape for the Send/Flush/Close contract.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/sink"
)

// Mode selects the wire format (spec.md §6).
type Mode string

const (
	ModeList   Mode = "list"
	ModeStream Mode = "stream"
	ModePubSub Mode = "pubsub"
)

// Config mirrors spec.md §6's redis transport block.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Mode      Mode
	KeyPrefix string
	ListName  string
	Stream    string
	Channel   string
	TTL       time.Duration
}

// Sink dispatches batches to Redis in the configured Mode.
type Sink struct {
	name string
	cfg  Config
	ser  *record.Serializer
	rdb  *goredis.Client

	closeOnce sync.Once
	closeErr  error
}

// New builds a redis Sink.
func New(name string, cfg Config, ser *record.Serializer) (*Sink, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeList
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &Sink{name: name, cfg: cfg, ser: ser, rdb: rdb}, nil
}

func (s *Sink) Name() string { return s.name }

// Send dispatches batch via the configured wire mode.
func (s *Sink) Send(ctx context.Context, batch record.Batch) error {
	switch s.cfg.Mode {
	case ModeStream:
		return s.sendStream(ctx, batch)
	case ModePubSub:
		return s.sendPubSub(ctx, batch)
	default:
		return s.sendList(ctx, batch)
	}
}

func (s *Sink) listKey() string { return s.cfg.KeyPrefix + s.cfg.ListName }

func (s *Sink) sendList(ctx context.Context, batch record.Batch) error {
	pipe := s.rdb.Pipeline()
	key := s.listKey()
	for _, r := range batch.Records {
		pipe.LPush(ctx, key, s.ser.Serialize(r))
	}
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis list pipeline: %v", sink.ErrWriteSink, err)
	}
	return nil
}

func (s *Sink) sendStream(ctx context.Context, batch record.Batch) error {
	pipe := s.rdb.Pipeline()
	for _, r := range batch.Records {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: s.cfg.Stream,
			Values: flattenFields(r),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis stream pipeline: %v", sink.ErrWriteSink, err)
	}
	return nil
}

func (s *Sink) sendPubSub(ctx context.Context, batch record.Batch) error {
	for _, r := range batch.Records {
		if err := s.rdb.Publish(ctx, s.cfg.Channel, s.ser.Serialize(r)).Err(); err != nil {
			return fmt.Errorf("%w: redis publish: %v", sink.ErrWriteSink, err)
		}
	}
	return nil
}

// flattenFields maps a LogRecord onto XADD's k/v pairs.
func flattenFields(r record.LogRecord) map[string]any {
	out := map[string]any{
		"id":        r.ID,
		"timestamp": r.Timestamp.Format(time.RFC3339Nano),
		"level":     string(r.Level),
		"message":   r.Message,
		"service":   r.Metadata.Service,
		"env":       r.Metadata.Environment,
	}
	for k, v := range r.Fields {
		out["field."+k] = fmt.Sprintf("%v", v)
	}
	return out
}

// IsHealthy pings the server.
func (s *Sink) IsHealthy(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", sink.ErrOpenSink, err)
	}
	return nil
}

// Flush is a no-op: every Send call's pipeline is already awaited.
func (s *Sink) Flush(ctx context.Context) error { return nil }

// Close releases the underlying connection pool. Later calls return the
// first call's result without closing again.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.rdb.Close() })
	return s.closeErr
}
