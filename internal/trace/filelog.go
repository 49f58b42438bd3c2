package trace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sched-sim/internal/logging"

	"github.com/sirupsen/logrus"
)

// MergedFileName is the name of the combined trace written by Merge.
const MergedFileName = "merged.log"

var errSinkFailed = errors.New("trace file could not be opened")

type sink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// FileLog writes one append-only file per worker: cpu<N>.log for CPU and
// SCHED records, io<N>.log for IO records. Offsets are relative to start.
type FileLog struct {
	dir   string
	start time.Time

	mu     sync.Mutex
	sinks  map[string]*sink
	failed map[string]bool
	closed bool
	logger *logrus.Logger
}

// NewFileLog creates dir if needed and removes worker files and the merged
// log left there by an earlier run.
func NewFileLog(dir string, start time.Time) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace dir: %w", err)
	}
	for _, pattern := range []string{"cpu*.log", "io*.log", MergedFileName} {
		stale, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, p := range stale {
			if err := os.Remove(p); err != nil {
				return nil, fmt.Errorf("failed to remove stale trace file: %w", err)
			}
		}
	}
	return &FileLog{
		dir:    dir,
		start:  start,
		sinks:  make(map[string]*sink),
		failed: make(map[string]bool),
		logger: logging.GetLogger(),
	}, nil
}

// FileName returns the per-worker file a record from src/srcID goes to.
func FileName(src Source, srcID int) string {
	if src == SourceIO {
		return fmt.Sprintf("io%d.log", srcID)
	}
	return fmt.Sprintf("cpu%d.log", srcID)
}

func (l *FileLog) sinkFor(name string) (*sink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("trace log is closed")
	}
	if s, ok := l.sinks[name]; ok {
		return s, nil
	}
	if l.failed[name] {
		return nil, errSinkFailed
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		l.failed[name] = true
		l.logger.WithFields(logrus.Fields{
			"trace_dir": l.dir,
			"file":      name,
		}).WithError(err).Warn("Failed to open trace file, records for this worker are dropped")
		return nil, err
	}
	s := &sink{f: f, w: bufio.NewWriter(f)}
	l.sinks[name] = s
	return s, nil
}

func (l *FileLog) Emit(src Source, srcID, taskID int, ev Event, extra string) {
	rec := Record{
		Offset:   time.Since(l.start),
		Source:   src,
		SourceID: srcID,
		TaskID:   taskID,
		Event:    ev,
		Extra:    extra,
	}
	s, err := l.sinkFor(FileName(src, srcID))
	if err != nil {
		return
	}
	s.mu.Lock()
	s.w.WriteString(rec.String())
	s.w.WriteByte('\n')
	s.mu.Unlock()
}

// Close flushes and closes every worker file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for name, s := range l.sinks {
		s.mu.Lock()
		if err := s.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if err := s.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Dir returns the directory the worker files live in.
func (l *FileLog) Dir() string {
	return l.dir
}

// ReadDir parses every per-worker file in dir, skipping merged.log.
func ReadDir(dir string) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, p := range paths {
		if filepath.Base(p) == MergedFileName {
			continue
		}
		recs, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	SortRecords(records)
	return records, nil
}

// ReadFile parses one trace file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// SortRecords orders records by offset, keeping file order for ties.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Offset < records[j].Offset
	})
}

// Merge combines the per-worker files of dir into dir/merged.log ordered by
// timestamp and returns the merged records.
func Merge(dir string) ([]Record, error) {
	records, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, MergedFileName))
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		w.WriteString(rec.String())
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return records, f.Close()
}
