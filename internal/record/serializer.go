package record

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const streamCompressThreshold = 1 << 20 // ~1 MiB, spec §4.1

// circularMarker and nonSerializableMarker are the sentinel renderings
// spec.md §3 and §4.1 require in place of ever throwing.
const (
	circularMarker       = "[Circular Reference]"
	nonSerializableMarker = "[Non-Serializable]"
)

// MaskRule marks field names matching Pattern, at any nesting depth, for
// redaction in serialize output.
type MaskRule struct {
	Pattern *regexp.Regexp
}

// Serializer converts LogRecords to canonical JSON lines. It is pure with
// respect to the record; the only state it carries is masking config.
type Serializer struct {
	Masks          []MaskRule
	PreserveLength bool
	MaskingChar    rune
}

// NewSerializer builds a Serializer from raw regex patterns (spec §6
// `masking.patterns`).
func NewSerializer(patterns []string, preserveLength bool, maskingChar rune) (*Serializer, error) {
	if maskingChar == 0 {
		maskingChar = '*'
	}
	s := &Serializer{PreserveLength: preserveLength, MaskingChar: maskingChar}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		s.Masks = append(s.Masks, MaskRule{Pattern: re})
	}
	return s, nil
}

// envelope is the fixed, ordered top-level key subset spec.md §4.1 demands.
// json.Marshal on a struct preserves field declaration order, which is how
// the ordering guarantee is met without a custom encoder.
type envelope struct {
	Timestamp     string         `json:"@timestamp"`
	ID            string         `json:"@id"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Source        string         `json:"source,omitempty"`
	Version       string         `json:"version,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	TraceID       string         `json:"traceId,omitempty"`
	SpanID        string         `json:"spanId,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
	Metadata      Metadata       `json:"metadata"`
	Performance   *Performance   `json:"performance,omitempty"`
}

type errorEnvelope struct {
	Timestamp string `json:"@timestamp"`
	ID        string `json:"@id"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Error     string `json:"@error"`
}

// Serialize converts one LogRecord to a newline-terminated JSON line. It
// never returns an error to the caller in the sense of failing the whole
// pipeline: on any internal failure it falls back to a minimal envelope
// carrying an @error key, per spec.md §4.1.
func (s *Serializer) Serialize(r LogRecord) []byte {
	fields := s.renderFields(r.Fields)
	env := envelope{
		Timestamp:     r.Timestamp.Format(timeLayout),
		ID:            r.ID,
		Level:         r.Level,
		Message:       r.Message,
		CorrelationID: r.CorrelationID,
		Source:        r.Source,
		Version:       r.Version,
		RequestID:     r.RequestID,
		TraceID:       r.TraceID,
		SpanID:        r.SpanID,
		Fields:        fields,
		Metadata:      r.Metadata,
		Performance:   r.Performance,
	}
	out, err := json.Marshal(env)
	if err != nil {
		out, _ = json.Marshal(errorEnvelope{
			Timestamp: r.Timestamp.Format(timeLayout),
			ID:        r.ID,
			Level:     r.Level,
			Message:   r.Message,
			Error:     err.Error(),
		})
	}
	return append(out, '\n')
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SerializeBatch serializes each record independently: one record's
// failure never prevents its siblings from serializing (spec §4.1).
func (s *Serializer) SerializeBatch(records []LogRecord) [][]byte {
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = s.Serialize(r)
	}
	return out
}

// renderFields walks r.Fields, masking matched keys and rendering cycles
// and non-serializable values as sentinels rather than ever panicking.
func (s *Serializer) renderFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	visited := make(map[uintptr]bool)
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = s.renderValue(k, v, visited)
	}
	return out
}

func (s *Serializer) renderValue(key string, v any, visited map[uintptr]bool) any {
	if s.masked(key) {
		return s.maskValue(v)
	}
	return s.sanitize(v, visited)
}

func (s *Serializer) masked(key string) bool {
	for _, m := range s.Masks {
		if m.Pattern.MatchString(key) {
			return true
		}
	}
	return false
}

func (s *Serializer) maskValue(v any) string {
	if !s.PreserveLength {
		return strings.Repeat(string(s.MaskingChar), 8)
	}
	str, ok := v.(string)
	if !ok {
		return strings.Repeat(string(s.MaskingChar), 8)
	}
	return strings.Repeat(string(s.MaskingChar), len([]rune(str)))
}

// sanitize recursively walks maps/slices/pointers, detecting reference
// cycles via an identity-keyed visited set, masking matched keys at any
// depth (spec §4.1), and replacing anything it cannot represent in JSON
// with the non-serializable sentinel.
func (s *Serializer) sanitize(v any, visited map[uintptr]bool) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case map[string]any:
		rv := reflect.ValueOf(val)
		ptr := rv.Pointer()
		if visited[ptr] {
			return circularMarker
		}
		visited[ptr] = true
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.renderValue(k, item, visited)
		}
		delete(visited, ptr)
		return out
	case []any:
		rv := reflect.ValueOf(val)
		ptr := rv.Pointer()
		if visited[ptr] {
			return circularMarker
		}
		visited[ptr] = true
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.sanitize(item, visited)
		}
		delete(visited, ptr)
		return out
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Slice:
			if rv.IsNil() {
				return nil
			}
			ptr := rv.Pointer()
			if visited[ptr] {
				return circularMarker
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		if _, err := json.Marshal(v); err != nil {
			return nonSerializableMarker
		}
		return v
	}
}

// Compress gzip-compresses bytes, using the faster klauspost/compress
// implementation in place of compress/gzip.
func (s *Serializer) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressStream compresses via a streamed writer path when data exceeds
// ~1 MiB, to avoid holding the whole compressed buffer in a single
// allocation burst (spec §4.1). For small payloads it's equivalent to
// Compress.
func (s *Serializer) CompressStream(data []byte) ([]byte, error) {
	if len(data) <= streamCompressThreshold {
		return s.Compress(data)
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	const chunk = 64 * 1024
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.Write(data[off:end]); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
