package file

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/smedrec/logpipe/internal/record"
)

func mustSerializer(t *testing.T) *record.Serializer {
	t.Helper()
	ser, err := record.NewSerializer(nil, false, '*')
	if err != nil {
		t.Fatalf("new serializer: %v", err)
	}
	return ser
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestSendCreatesDirectoryAndWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.jsonl")
	s, err := New("file", Config{Path: path, MaxSize: 1 << 20}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	batch := record.Batch{Records: []record.LogRecord{
		record.New(record.LevelInfo, "one", record.Metadata{Service: "s", Environment: "e"}),
		record.New(record.LevelInfo, "two", record.Metadata{Service: "s", Environment: "e"}),
	}}
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}
	if countLines(t, path) != 2 {
		t.Fatalf("expected 2 lines written")
	}
}

func TestRotatesAtMaxSizeBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jsonl")
	// Small enough that a couple records force a rotation.
	s, err := New("file", Config{Path: path, MaxSize: 200}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	for i := 0; i < 20; i++ {
		r := record.New(record.LevelInfo, "padding-message-to-grow-the-line", record.Metadata{Service: "s", Environment: "e"})
		if err := s.Send(context.Background(), record.Batch{Records: []record.LogRecord{r}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least one rotated file alongside the live file, got %d entries", len(entries))
	}
}

func TestIsHealthyFalseAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jsonl")
	s, err := New("file", Config{Path: path, MaxSize: 1 << 20}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.IsHealthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy after close")
	}
}

func TestRetentionDeletesBeyondMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jsonl")
	s, err := New("file", Config{Path: path, MaxSize: 100, MaxFiles: 1}, mustSerializer(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	for i := 0; i < 30; i++ {
		r := record.New(record.LevelInfo, "padding-message-to-grow-the-line-longer", record.Metadata{Service: "s", Environment: "e"})
		if err := s.Send(context.Background(), record.Batch{Records: []record.LogRecord{r}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	rotatedCount := 0
	for _, e := range entries {
		if e.Name() != filepath.Base(path) {
			rotatedCount++
		}
	}
	if rotatedCount > 1 {
		t.Fatalf("expected retention to cap rotated files at MaxFiles=1, found %d", rotatedCount)
	}
}
