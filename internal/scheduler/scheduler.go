package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"sched-sim/internal/metrics"
	"sched-sim/internal/task"
	"sched-sim/internal/trace"
)

// Kind selects a scheduler implementation.
type Kind string

const (
	KindO1 Kind = "O1"
	KindOn Kind = "On"
)

// ParseKind accepts "O1" or "On" in any case, as well as the bare "1" and "n".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "o1", "1":
		return KindO1, nil
	case "on", "n":
		return KindOn, nil
	default:
		return "", fmt.Errorf("unknown scheduler %q (want O1 or On)", s)
	}
}

// ErrEmptyTask is returned when the source hands over a task with no bursts.
var ErrEmptyTask = errors.New("admitted task has no bursts")

// Source yields admitted tasks in batches. workload.Source implements it.
// ReadNextN must stop at the first error returned by admit.
type Source interface {
	ReadNextN(n int, admit func(*task.Task) error) (int, error)
}

// Scheduler is shared by all CPU workers and must be safe for concurrent use.
type Scheduler interface {
	// RequestTask returns the next task for the core, or nil when nothing is
	// ready. It fails only when admission from the source fails.
	RequestTask(coreID int) (*task.Task, error)
	// ReturnTask takes ownership of a task that still has bursts left.
	ReturnTask(coreID int, t *task.Task)
	// Admit reads up to n records from the source on behalf of the core.
	Admit(n, coreID int) (int, error)
	// Queued is the number of ready tasks visible to the core.
	Queued(coreID int) int
	Admitted() int64
	Kind() Kind
}

type Options struct {
	// LowWater triggers admission when fewer tasks than this are ready.
	LowWater int
	// Batch is the number of records admitted per refill.
	Batch   int
	Tracer  trace.Emitter
	Metrics *metrics.Recorder
}

func DefaultOptions() Options {
	return Options{LowWater: 10, Batch: 1}
}

func New(kind Kind, src Source, numCPU int, opts Options) (Scheduler, error) {
	if src == nil {
		return nil, fmt.Errorf("scheduler needs a task source")
	}
	if numCPU <= 0 {
		return nil, fmt.Errorf("scheduler needs at least one cpu, got %d", numCPU)
	}
	if opts.LowWater < 1 || opts.Batch < 1 {
		return nil, fmt.Errorf("low water (%d) and batch (%d) must be at least 1", opts.LowWater, opts.Batch)
	}
	switch kind {
	case KindO1:
		return NewO1(src, numCPU, opts), nil
	case KindOn:
		return NewOn(src, numCPU, opts), nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind %q", kind)
	}
}
