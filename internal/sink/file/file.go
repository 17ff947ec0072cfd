// Package file implements FileSink: newline-delimited JSON to a path, with
// size- and time-based rotation, optional gzip of rotated files, and
// retention by age and count (spec.md §4.9). Grounded on the teacher's
// internal/sink/rotate.go RotatingJSONLSink, extended with timestamped
// rotation names, a wall-clock rotation interval, and retention sweeps.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smedrec/logpipe/internal/obslog"
	"github.com/smedrec/logpipe/internal/record"
	"github.com/smedrec/logpipe/internal/sink"
)

// RotationInterval is the wall-clock rotation cadence (spec.md §3's
// RotationInterval tagged variant).
type RotationInterval string

const (
	RotationNone    RotationInterval = ""
	RotationDaily   RotationInterval = "daily"
	RotationWeekly  RotationInterval = "weekly"
	RotationMonthly RotationInterval = "monthly"
)

const maxRotationCollisions = 100

// Config mirrors spec.md §6's file sink block.
type Config struct {
	Path             string
	MaxSize          int64
	RotationInterval RotationInterval
	Gzip             bool
	RetentionDays    int
	MaxFiles         int
}

// Sink writes newline-delimited JSON to Config.Path, rotating on size or
// time triggers.
type Sink struct {
	name string
	cfg  Config
	ser  *record.Serializer
	log  obslog.Logger

	mu                sync.Mutex
	current           *os.File
	currentFileSize   int64
	lastRotationTime  time.Time
}

// New opens (creating parent directories as needed) the sink's live file.
func New(name string, cfg Config, ser *record.Serializer) (*Sink, error) {
	s := &Sink{name: name, cfg: cfg, ser: ser, log: obslog.Default().With("component", "filesink", "path", cfg.Path)}
	if err := s.openLive(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) openLive() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", sink.ErrOpenSink, err)
	}
	f, err := os.OpenFile(s.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", sink.ErrOpenSink, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", sink.ErrOpenSink, err)
	}
	s.current = f
	s.currentFileSize = info.Size()
	s.lastRotationTime = time.Now()
	return nil
}

// Send writes every record in batch as a JSON line, checking for rotation
// after each write (spec.md §4.9's state machine).
func (s *Sink) Send(ctx context.Context, batch record.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch.Records {
		line := s.ser.Serialize(r)
		n, err := s.current.Write(line)
		if err != nil {
			return fmt.Errorf("%w: %v", sink.ErrWriteSink, err)
		}
		s.currentFileSize += int64(n)

		// Rotation is evaluated after the write it was caused by, not
		// before: the record that crosses maxSize still lands in the live
		// file, and the fresh file is ready in time for the next write
		// (spec.md §4.9, scenario S5).
		if s.shouldRotateLocked() {
			if err := s.rotateLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) shouldRotateLocked() bool {
	if s.cfg.MaxSize > 0 && s.currentFileSize >= s.cfg.MaxSize {
		return true
	}
	return s.crossedTimeBoundary()
}

func (s *Sink) crossedTimeBoundary() bool {
	if s.cfg.RotationInterval == RotationNone {
		return false
	}
	now := time.Now()
	switch s.cfg.RotationInterval {
	case RotationDaily:
		return now.YearDay() != s.lastRotationTime.YearDay() || now.Year() != s.lastRotationTime.Year()
	case RotationWeekly:
		ny, nw := now.ISOWeek()
		ly, lw := s.lastRotationTime.ISOWeek()
		return ny != ly || nw != lw
	case RotationMonthly:
		return now.Month() != s.lastRotationTime.Month() || now.Year() != s.lastRotationTime.Year()
	default:
		return false
	}
}

// rotateLocked implements spec.md §4.9 steps 1-5; caller holds s.mu.
func (s *Sink) rotateLocked() error {
	if err := s.current.Close(); err != nil {
		return fmt.Errorf("%w: %v", sink.ErrRotateSink, err)
	}

	rotated, err := s.claimRotatedName()
	if err != nil {
		return err
	}
	if err := os.Rename(s.cfg.Path, rotated); err != nil {
		return fmt.Errorf("%w: %v", sink.ErrRotateSink, err)
	}

	if s.cfg.Gzip {
		go s.compressAndUnlink(rotated)
	}

	s.runRetention()

	return s.openLive()
}

func (s *Sink) claimRotatedName() (string, error) {
	ext := filepath.Ext(s.cfg.Path)
	base := strings.TrimSuffix(s.cfg.Path, ext)
	ts := time.Now().UTC().Format("20060102T150405")
	for counter := 0; counter < maxRotationCollisions; counter++ {
		candidate := fmt.Sprintf("%s.%s.%d%s", base, ts, counter, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: exhausted rotation name collisions for %s", sink.ErrRotateSink, s.cfg.Path)
}

func (s *Sink) compressAndUnlink(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("read rotated file for compression failed", "path", path, "err", err)
		return
	}
	compressed, err := s.ser.Compress(data)
	if err != nil {
		s.log.Warn("compress rotated file failed", "path", path, "err", err)
		return
	}
	if err := os.WriteFile(path+".gz", compressed, 0o644); err != nil {
		s.log.Warn("write compressed rotated file failed", "path", path, "err", err)
		return
	}
	if err := os.Remove(path); err != nil {
		s.log.Warn("unlink original rotated file failed", "path", path, "err", err)
	}
}

type rotatedFile struct {
	path    string
	modTime time.Time
}

// runRetention lists sibling rotated files, deletes anything older than
// RetentionDays, then anything beyond MaxFiles (spec.md §4.9 step 4).
func (s *Sink) runRetention() {
	dir := filepath.Dir(s.cfg.Path)
	ext := filepath.Ext(s.cfg.Path)
	base := filepath.Base(strings.TrimSuffix(s.cfg.Path, ext))

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn("retention: read dir failed", "dir", dir, "err", err)
		return
	}

	var rotated []rotatedFile
	prefix := base + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rotated = append(rotated, rotatedFile{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].modTime.Before(rotated[j].modTime) })

	if s.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
		kept := rotated[:0]
		for _, f := range rotated {
			if f.modTime.Before(cutoff) {
				os.Remove(f.path)
				continue
			}
			kept = append(kept, f)
		}
		rotated = kept
	}

	if s.cfg.MaxFiles > 0 && len(rotated) > s.cfg.MaxFiles {
		excess := len(rotated) - s.cfg.MaxFiles
		for _, f := range rotated[:excess] {
			os.Remove(f.path)
		}
	}
}

// IsHealthy reports whether the live file is still open; it does not
// attempt a write.
func (s *Sink) IsHealthy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return fmt.Errorf("%w: file not open", sink.ErrOpenSink)
	}
	return nil
}

// Flush syncs the live file to disk. Writes go straight to the OS file
// descriptor, serialized by s.mu, so there is no in-process buffer to drain.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close ends the stream.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
