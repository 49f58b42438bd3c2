package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sched-sim/internal/logging"
	"sched-sim/internal/task"

	"github.com/sirupsen/logrus"
)

var (
	// ErrMalformedRecord is returned for records with missing or non-integer
	// fields, or values outside the accepted ranges.
	ErrMalformedRecord = errors.New("malformed workload record")
	// ErrNoBursts is returned for records that carry no (device, duration) pair.
	ErrNoBursts = errors.New("workload record has no bursts")
)

// Source owns the sequential read cursor over a workload stream. It is not
// safe for concurrent use: callers serialize ReadNextN behind their
// admission lock.
type Source struct {
	name    string
	layout  task.Layout
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
	done    bool
	logger  *logrus.Logger
}

// Open opens a workload file for sequential admission.
func Open(path string, layout task.Layout) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workload: %w", err)
	}
	src := NewSource(f, layout)
	src.name = path
	src.closer = f
	return src, nil
}

// NewSource reads records from r. If r is an io.Closer it is closed at end of
// stream.
func NewSource(r io.Reader, layout task.Layout) *Source {
	src := &Source{
		name:    "stream",
		layout:  layout,
		scanner: bufio.NewScanner(r),
		logger:  logging.GetSchedulerLogger(),
	}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// ReadNextN parses up to n records and hands each to admit. An admit error
// stops the batch. Once the stream is exhausted it is closed and every later
// call returns (0, nil).
func (s *Source) ReadNextN(n int, admit func(*task.Task) error) (int, error) {
	if s.done {
		return 0, nil
	}
	count := 0
	for count < n {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.finish()
				return count, fmt.Errorf("failed to read workload %s: %w", s.name, err)
			}
			s.finish()
			break
		}
		s.line++
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := ParseRecord(line, s.layout)
		if err != nil {
			return count, fmt.Errorf("%s:%d: %w", s.name, s.line, err)
		}
		if err := admit(t); err != nil {
			return count, fmt.Errorf("%s:%d: %w", s.name, s.line, err)
		}
		count++
	}
	return count, nil
}

// Exhausted reports whether end of stream was reached.
func (s *Source) Exhausted() bool {
	return s.done
}

func (s *Source) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.logger.WithField("workload", s.name).WithError(err).Warn("Failed to close workload")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"workload": s.name,
		"lines":    s.line,
	}).Debug("Workload exhausted")
}

// Close releases the underlying stream early.
func (s *Source) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ParseRecord parses "task_id rt_priority nice policy [device duration]+".
func ParseRecord(line string, layout task.Layout) (*task.Task, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: expected at least 4 header fields, got %d", ErrMalformedRecord, len(fields))
	}
	header := make([]int, 4)
	for i := range header {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: field %d %q is not an integer", ErrMalformedRecord, i+1, fields[i])
		}
		header[i] = v
	}
	id, rtPriority, nice, policy := header[0], header[1], header[2], task.Policy(header[3])

	rest := fields[4:]
	if len(rest) == 0 {
		return nil, fmt.Errorf("task %d: %w", id, ErrNoBursts)
	}
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("%w: task %d has a device id without duration", ErrMalformedRecord, id)
	}
	if nice < task.MinNice || nice > task.MaxNice {
		return nil, fmt.Errorf("%w: task %d nice %d outside [%d, %d]", ErrMalformedRecord, id, nice, task.MinNice, task.MaxNice)
	}
	if policy.RealTime() && (rtPriority < 0 || rtPriority >= task.MaxRTPriority) {
		return nil, fmt.Errorf("%w: task %d rt_priority %d outside [0, %d)", ErrMalformedRecord, id, rtPriority, task.MaxRTPriority)
	}

	bursts := make([]task.Burst, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		device, err := strconv.Atoi(rest[i])
		if err != nil {
			return nil, fmt.Errorf("%w: task %d device %q is not an integer", ErrMalformedRecord, id, rest[i])
		}
		duration, err := strconv.Atoi(rest[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: task %d duration %q is not an integer", ErrMalformedRecord, id, rest[i+1])
		}
		b := task.Burst{Device: device, DurationUS: duration}
		if err := layout.ValidateBurst(b); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrMalformedRecord, id, err)
		}
		bursts = append(bursts, b)
	}
	return task.New(id, rtPriority, nice, policy, bursts), nil
}
