package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPassesValidationWithServiceSet(t *testing.T) {
	cfg := Default()
	cfg.Service = "svc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config (with service set) to validate, got %v", err)
	}
}

func TestValidateRejectsMissingService(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for missing service")
	}
}

func TestValidateRejectsUnknownTransportType(t *testing.T) {
	cfg := Default()
	cfg.Service = "svc"
	cfg.Transports = []TransportConfig{{Name: "x", Enabled: true, Type: "carrier-pigeon"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown transport type")
	}
}

func TestValidateRejectsFileTransportWithoutPath(t *testing.T) {
	cfg := Default()
	cfg.Service = "svc"
	cfg.Transports = []TransportConfig{{Name: "f", Enabled: true, Type: "file"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for file transport missing path")
	}
}

func TestMergeOverlaysNonZeroFields(t *testing.T) {
	base := Default()
	base.Service = "base-svc"
	override := Config{Service: "override-svc"}
	merged := Merge(base, override)
	if merged.Service != "override-svc" {
		t.Fatalf("expected override to win, got %q", merged.Service)
	}
	if merged.Batch.MaxSize != base.Batch.MaxSize {
		t.Fatalf("expected untouched fields to keep base value")
	}
}

func TestFromEnvOverridesLevel(t *testing.T) {
	t.Setenv("LOGPIPE_LEVEL", "debug")
	cfg := FromEnv(Default())
	if cfg.Level != "debug" {
		t.Fatalf("expected env override to set level=debug, got %q", cfg.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	content := "service: svc\nenvironment: prod\nbatch:\n  maxSize: 50\n  timeoutMs: 1000\n  maxConcurrency: 2\n  maxQueueSize: 500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service != "svc" || cfg.Batch.MaxSize != 50 {
		t.Fatalf("unexpected parsed config: %+v", cfg)
	}
}
