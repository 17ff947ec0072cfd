// Command logpiped runs the dispatch pipeline as a standalone process: it
// reads newline-delimited JSON log lines from stdin (or --input) and emits
// each as a LogRecord, until EOF or a shutdown signal. Adapted from the
// teacher's cmd/etl/main.go (flag/env/config precedence, scanner-driven
// main loop, signal-based graceful shutdown); the worker-pool write stage
// is replaced by Pipeline.Emit, since batching and retries now live inside
// the pipeline itself.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smedrec/logpipe/internal/classify"
	"github.com/smedrec/logpipe/internal/config"
	"github.com/smedrec/logpipe/internal/obslog"
	"github.com/smedrec/logpipe/internal/pipeline"
	"github.com/smedrec/logpipe/internal/record"
)

func main() {
	flagConfig := flag.String("config", "", "path to YAML or JSON config file")
	flagInput := flag.String("input", "", "input JSONL path (use '-' or omit for stdin)")
	flagService := flag.String("service", "", "service name attached to every record")
	flagEnvironment := flag.String("environment", "", "deployment environment attached to every record")
	flagLogLevel := flag.String("log-level", "", "ambient log level, stored in the config; the ambient logger does not filter by it")
	flagLogFormat := flag.String("log-format", "", "ambient log format: json, text")
	flagShutdownTimeout := flag.Int("shutdown-timeout-seconds", 0, "graceful shutdown timeout in seconds")
	flag.Parse()

	cfg := config.Default()

	cfgPath := *flagConfig
	if cfgPath == "" {
		cfgPath = os.Getenv("LOGPIPE_CONFIG")
	}
	if cfgPath != "" {
		fileCfg, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Merge(cfg, fileCfg)
	}

	cfg = config.FromEnv(cfg)

	override := config.Config{}
	if *flagService != "" {
		override.Service = *flagService
	}
	if *flagEnvironment != "" {
		override.Environment = *flagEnvironment
	}
	if *flagLogLevel != "" {
		override.LogLevel = *flagLogLevel
	}
	if *flagLogFormat != "" {
		override.LogFormat = *flagLogFormat
	}
	cfg = config.Merge(cfg, override)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg)
	log := obslog.Default().With("component", "main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	onError := func(ce *classify.CategorizedError) {
		log.Warn("dispatch error", "category", string(ce.Category), "severity", string(ce.Severity), "err", ce.Error())
	}

	p, err := pipeline.New(cfg, onError)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build pipeline: %v\n", err)
		os.Exit(1)
	}

	in, closeFn, err := inputReader(*flagInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open input: %v\n", err)
		os.Exit(1)
	}
	if closeFn != nil {
		defer closeFn()
	}

	shutdownTimeout := time.Duration(cfg.Health.SendTimeoutMS) * time.Millisecond
	if *flagShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(*flagShutdownTimeout) * time.Second
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	accepted, rejected := runLoop(ctx, in, p, cfg)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := p.Flush(closeCtx); err != nil {
		log.Warn("flush on shutdown reported an error", "err", err)
	}
	if err := p.Close(closeCtx); err != nil {
		log.Warn("close reported an error", "err", err)
	}

	fmt.Printf("Accepted: %d, Rejected: %d\n", accepted, rejected)
}

func initLogger(cfg config.Config) {
	text := strings.ToLower(cfg.LogFormat) == "text"
	obslog.SetDefault(obslog.New(os.Stderr, text))
}

// wireRecord is the minimal input line shape this binary accepts; a real
// façade would expose typed Debug/Info/Warn/Error methods instead.
type wireRecord struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields"`
}

func runLoop(ctx context.Context, in io.Reader, p *pipeline.Pipeline, cfg config.Config) (accepted, rejected int) {
	log := obslog.Default().With("component", "main")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, stopping input loop")
			return accepted, rejected
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var wr wireRecord
		if err := json.Unmarshal([]byte(line), &wr); err != nil {
			rejected++
			log.Warn("skipping malformed input line", "err", err)
			continue
		}
		level := record.Level(strings.ToLower(wr.Level))
		if !level.Valid() {
			level = record.LevelInfo
		}

		r := record.New(level, wr.Message, record.Metadata{Service: cfg.Service, Environment: cfg.Environment})
		r.Fields = wr.Fields
		if r.Fields == nil {
			r.Fields = map[string]any{}
		}

		if err := p.Emit(ctx, r); err != nil {
			rejected++
			log.Warn("emit rejected", "err", err)
			continue
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		log.Warn("scanner error", "err", err)
	}
	return accepted, rejected
}

func inputReader(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
