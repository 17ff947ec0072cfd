// Package config loads and validates the pipeline's runtime configuration
// (spec.md §6). Adapted from the teacher's internal/config/config.go
// Merge/FromEnv/Load/Validate shape; the teacher's hand-rolled YAML reader
// is replaced by gopkg.in/yaml.v3 per SPEC_FULL.md §3.1.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TransportConfig is one entry of the ordered `transports` list (spec.md §6).
type TransportConfig struct {
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Type    string `json:"type" yaml:"type"` // console|file|otlp|redis

	File  *FileConfig  `json:"file,omitempty" yaml:"file,omitempty"`
	Otlp  *OtlpConfig  `json:"otlp,omitempty" yaml:"otlp,omitempty"`
	Redis *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type FileConfig struct {
	Path             string `json:"path" yaml:"path"`
	MaxSizeBytes     int64  `json:"maxSizeBytes,omitempty" yaml:"maxSizeBytes,omitempty"`
	RotationInterval string `json:"rotationInterval,omitempty" yaml:"rotationInterval,omitempty"` // daily|weekly|monthly
	Gzip             bool   `json:"gzip,omitempty" yaml:"gzip,omitempty"`
	RetentionDays    int    `json:"retentionDays,omitempty" yaml:"retentionDays,omitempty"`
	MaxFiles         int    `json:"maxFiles,omitempty" yaml:"maxFiles,omitempty"`
}

type OtlpConfig struct {
	Endpoint                  string            `json:"endpoint" yaml:"endpoint"`
	Headers                   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	TimeoutMS                 int               `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	CompressionThresholdBytes int               `json:"compressionThresholdBytes,omitempty" yaml:"compressionThresholdBytes,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	Mode      string `json:"mode,omitempty" yaml:"mode,omitempty"` // list|stream|pubsub
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`
	ListName  string `json:"listName,omitempty" yaml:"listName,omitempty"`
	Stream    string `json:"stream,omitempty" yaml:"stream,omitempty"`
	Channel   string `json:"channel,omitempty" yaml:"channel,omitempty"`
	TTLSec    int    `json:"ttlSeconds,omitempty" yaml:"ttlSeconds,omitempty"`
}

// BatchConfig mirrors spec.md §6's batch block.
type BatchConfig struct {
	MaxSize        int `json:"maxSize" yaml:"maxSize"`
	TimeoutMS      int `json:"timeoutMs" yaml:"timeoutMs"`
	MaxConcurrency int `json:"maxConcurrency" yaml:"maxConcurrency"`
	MaxQueueSize   int `json:"maxQueueSize" yaml:"maxQueueSize"`
}

// RetryOverride mirrors one entry of spec.md §6's per-sink retry table.
type RetryOverride struct {
	Sink         string  `json:"sink" yaml:"sink"`
	MaxAttempts  int     `json:"maxAttempts" yaml:"maxAttempts"`
	InitialMS    int     `json:"initialDelayMs" yaml:"initialDelayMs"`
	MaxMS        int     `json:"maxDelayMs" yaml:"maxDelayMs"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier"`
	JitterMS     int     `json:"jitterMs" yaml:"jitterMs"`
}

// CircuitConfig mirrors spec.md §6's circuit block.
type CircuitConfig struct {
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`
	CooldownMS       int `json:"cooldownMs" yaml:"cooldownMs"`
}

// HealthConfig mirrors spec.md §6's health block.
type HealthConfig struct {
	CheckIntervalMS   int  `json:"checkIntervalMs,omitempty" yaml:"checkIntervalMs,omitempty"`
	FailureThreshold  int  `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	RecoveryThreshold int  `json:"recoveryThreshold,omitempty" yaml:"recoveryThreshold,omitempty"`
	AutoRecovery      bool `json:"autoRecovery,omitempty" yaml:"autoRecovery,omitempty"`
	SendTimeoutMS     int  `json:"sendTimeoutMs,omitempty" yaml:"sendTimeoutMs,omitempty"`
}

// FallbackConfig mirrors spec.md §6's fallback block.
type FallbackConfig struct {
	Enable bool     `json:"enable" yaml:"enable"`
	Chain  []string `json:"chain,omitempty" yaml:"chain,omitempty"`
	MaxDepth int    `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
}

// MaskingConfig mirrors spec.md §4.1's masking rules.
type MaskingConfig struct {
	Patterns       []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	PreserveLength bool     `json:"preserveLength,omitempty" yaml:"preserveLength,omitempty"`
	MaskingChar    string   `json:"maskingChar,omitempty" yaml:"maskingChar,omitempty"`
}

// PerformanceConfig bounds the error-rate limiter (spec.md §4.6).
type PerformanceConfig struct {
	MaxErrorsPerMinute int     `json:"maxErrorsPerMinute,omitempty" yaml:"maxErrorsPerMinute,omitempty"`
	OverflowPerSecond  float64 `json:"overflowPerSecond,omitempty" yaml:"overflowPerSecond,omitempty"`
}

// Config is the full pipeline configuration (spec.md §6).
type Config struct {
	Level       string            `json:"level,omitempty" yaml:"level,omitempty"`
	Service     string            `json:"service,omitempty" yaml:"service,omitempty"`
	Environment string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	Transports  []TransportConfig `json:"transports,omitempty" yaml:"transports,omitempty"`
	Batch       BatchConfig       `json:"batch" yaml:"batch"`
	Retry       []RetryOverride   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Circuit     CircuitConfig     `json:"circuit" yaml:"circuit"`
	Health      HealthConfig      `json:"health" yaml:"health"`
	Fallback    FallbackConfig    `json:"fallback" yaml:"fallback"`
	Masking     MaskingConfig     `json:"masking,omitempty" yaml:"masking,omitempty"`
	Performance PerformanceConfig `json:"performance,omitempty" yaml:"performance,omitempty"`

	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`   // ambient obslog level; not applied by obslog, which emits every level
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"` // json|text
}

// Default returns a Config with spec.md's recommended defaults.
func Default() Config {
	return Config{
		Level:       "info",
		Environment: "development",
		Transports: []TransportConfig{
			{Name: "console", Enabled: true, Type: "console"},
		},
		Batch:   BatchConfig{MaxSize: 100, TimeoutMS: 5000, MaxConcurrency: 4, MaxQueueSize: 10000},
		Circuit: CircuitConfig{FailureThreshold: 5, CooldownMS: 30000},
		Health: HealthConfig{
			CheckIntervalMS:   30000,
			FailureThreshold:  3,
			RecoveryThreshold: 2,
			AutoRecovery:      true,
			SendTimeoutMS:     10000,
		},
		Fallback:    FallbackConfig{Enable: true, Chain: []string{"console"}, MaxDepth: 3},
		Performance: PerformanceConfig{MaxErrorsPerMinute: 60, OverflowPerSecond: 50},
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Merge overlays non-zero values from override onto base.
func Merge(base, override Config) Config {
	result := base

	if override.Level != "" {
		result.Level = override.Level
	}
	if override.Service != "" {
		result.Service = override.Service
	}
	if override.Environment != "" {
		result.Environment = override.Environment
	}
	if len(override.Transports) > 0 {
		result.Transports = override.Transports
	}
	if override.Batch.MaxSize > 0 {
		result.Batch = override.Batch
	}
	if len(override.Retry) > 0 {
		result.Retry = override.Retry
	}
	if override.Circuit.FailureThreshold > 0 {
		result.Circuit = override.Circuit
	}
	if override.Health.CheckIntervalMS > 0 {
		result.Health = override.Health
	}
	if override.Fallback.Enable {
		result.Fallback = override.Fallback
	}
	if len(override.Masking.Patterns) > 0 {
		result.Masking = override.Masking
	}
	if override.Performance.MaxErrorsPerMinute > 0 {
		result.Performance = override.Performance
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		result.LogFormat = override.LogFormat
	}
	return result
}

// FromEnv applies LOGPIPE_* environment overrides to base.
func FromEnv(base Config) Config {
	result := base

	if v := os.Getenv("LOGPIPE_LEVEL"); v != "" {
		result.Level = v
	}
	if v := os.Getenv("LOGPIPE_SERVICE"); v != "" {
		result.Service = v
	}
	if v := os.Getenv("LOGPIPE_ENVIRONMENT"); v != "" {
		result.Environment = v
	}
	if v := os.Getenv("LOGPIPE_BATCH_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			result.Batch.MaxSize = n
		}
	}
	if v := os.Getenv("LOGPIPE_BATCH_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			result.Batch.TimeoutMS = n
		}
	}
	if v := os.Getenv("LOGPIPE_BATCH_MAX_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			result.Batch.MaxQueueSize = n
		}
	}
	if v := os.Getenv("LOGPIPE_CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			result.Circuit.FailureThreshold = n
		}
	}
	if v := os.Getenv("LOGPIPE_CIRCUIT_COOLDOWN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			result.Circuit.CooldownMS = n
		}
	}
	if v := os.Getenv("LOGPIPE_FALLBACK_CHAIN"); v != "" {
		result.Fallback.Chain = parseList(v)
	}
	if v := os.Getenv("LOGPIPE_MASKING_PATTERNS"); v != "" {
		result.Masking.Patterns = parseList(v)
	}
	if v := os.Getenv("LOGPIPE_LOG_LEVEL"); v != "" {
		result.LogLevel = v
	}
	if v := os.Getenv("LOGPIPE_LOG_FORMAT"); v != "" {
		result.LogFormat = v
	}

	return result
}

// Load reads a JSON or YAML config file into Config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	}
	return cfg, nil
}

func parseList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var validTypes = map[string]bool{"console": true, "file": true, "otlp": true, "redis": true}
var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
var validRotation = map[string]bool{"": true, "daily": true, "weekly": true, "monthly": true}
var validRedisModes = map[string]bool{"": true, "list": true, "stream": true, "pubsub": true}

// Validate checks cfg for common misconfigurations, collecting every issue
// found rather than stopping at the first.
func Validate(cfg Config) error {
	var errs []string

	if cfg.Level != "" && !validLevels[strings.ToLower(cfg.Level)] {
		errs = append(errs, fmt.Sprintf("invalid level %q", cfg.Level))
	}
	if cfg.Service == "" {
		errs = append(errs, "service must be non-empty")
	}
	if cfg.Environment == "" {
		errs = append(errs, "environment must be non-empty")
	}

	seen := map[string]bool{}
	for _, tr := range cfg.Transports {
		if tr.Name == "" {
			errs = append(errs, "transport entries require a non-empty name")
			continue
		}
		if seen[tr.Name] {
			errs = append(errs, fmt.Sprintf("duplicate transport name %q", tr.Name))
		}
		seen[tr.Name] = true
		if !validTypes[tr.Type] {
			errs = append(errs, fmt.Sprintf("transport %q: invalid type %q", tr.Name, tr.Type))
			continue
		}
		switch tr.Type {
		case "file":
			if tr.File == nil || tr.File.Path == "" {
				errs = append(errs, fmt.Sprintf("transport %q: file.path is required", tr.Name))
			} else if tr.File.RotationInterval != "" && !validRotation[tr.File.RotationInterval] {
				errs = append(errs, fmt.Sprintf("transport %q: invalid rotationInterval %q", tr.Name, tr.File.RotationInterval))
			}
		case "otlp":
			if tr.Otlp == nil || tr.Otlp.Endpoint == "" {
				errs = append(errs, fmt.Sprintf("transport %q: otlp.endpoint is required", tr.Name))
			}
		case "redis":
			if tr.Redis == nil || tr.Redis.Addr == "" {
				errs = append(errs, fmt.Sprintf("transport %q: redis.addr is required", tr.Name))
			} else if !validRedisModes[tr.Redis.Mode] {
				errs = append(errs, fmt.Sprintf("transport %q: invalid redis mode %q", tr.Name, tr.Redis.Mode))
			}
		}
	}

	if cfg.Batch.MaxSize <= 0 {
		errs = append(errs, "batch.maxSize must be positive")
	}
	if cfg.Batch.MaxQueueSize <= 0 {
		errs = append(errs, "batch.maxQueueSize must be positive")
	}
	if cfg.Batch.MaxConcurrency < 0 {
		errs = append(errs, "batch.maxConcurrency cannot be negative")
	}

	for _, r := range cfg.Retry {
		if r.MaxMS > 0 && r.InitialMS > 0 && r.MaxMS < r.InitialMS {
			errs = append(errs, fmt.Sprintf("retry override %q: maxDelayMs must be >= initialDelayMs", r.Sink))
		}
	}

	if cfg.Fallback.Enable && cfg.Fallback.MaxDepth < 0 {
		errs = append(errs, "fallback.maxDepth cannot be negative")
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("invalid logFormat %q", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
