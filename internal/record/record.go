// Package record defines the LogRecord value type delivered through the
// dispatch pipeline, and the batch it is grouped into before a sink sees it.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Level is one of the five admitted severities.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Valid reports whether l is one of the enumerated levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// SeverityNumber maps a level to its OTLP severity number (spec §4.10).
func (l Level) SeverityNumber() int32 {
	switch l {
	case LevelDebug:
		return 5
	case LevelInfo:
		return 9
	case LevelWarn:
		return 13
	case LevelError:
		return 17
	case LevelFatal:
		return 21
	default:
		return 0
	}
}

// RequestMeta, DatabaseMeta, and SecurityMeta are the optional structured
// sub-records of Metadata (spec §3).
type RequestMeta struct {
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

type DatabaseMeta struct {
	Operation  string  `json:"operation,omitempty"`
	Table      string  `json:"table,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
	RowCount   int     `json:"rowCount,omitempty"`
}

type SecurityMeta struct {
	Event    string `json:"event,omitempty"`
	Severity string `json:"severity,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// Metadata is the fixed-shape metadata record every LogRecord carries.
type Metadata struct {
	Service     string        `json:"service"`
	Environment string        `json:"environment"`
	Hostname    string        `json:"hostname,omitempty"`
	PID         int           `json:"pid,omitempty"`
	Request     *RequestMeta  `json:"request,omitempty"`
	Database    *DatabaseMeta `json:"database,omitempty"`
	Security    *SecurityMeta `json:"security,omitempty"`
}

// Performance is the optional sampled performance envelope (spec §3).
type Performance struct {
	CPUUsage       float64 `json:"cpuUsage,omitempty"`
	MemoryUsage    float64 `json:"memoryUsage,omitempty"`
	DurationMs     float64 `json:"duration,omitempty"`
	OperationCount int64   `json:"operationCount,omitempty"`
}

// LogRecord is immutable once constructed and handed to a BatchManager.
type LogRecord struct {
	ID            string
	Timestamp     time.Time
	Level         Level
	Message       string
	CorrelationID string
	RequestID     string
	TraceID       string
	SpanID        string
	Fields        map[string]any
	Metadata      Metadata
	Performance   *Performance
	Source        string
	Version       string
}

// New constructs a LogRecord with a generated ID and the current wall
// clock, enforcing the non-empty service/environment invariant is left to
// the caller (the pipeline validates at Emit time).
func New(level Level, message string, meta Metadata) LogRecord {
	return LogRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Metadata:  meta,
		Fields:    make(map[string]any),
	}
}

// Batch is an ordered, immutable-after-release sequence of records.
type Batch struct {
	Records []LogRecord
}

func (b Batch) Len() int { return len(b.Records) }
