package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"sched-sim/internal/logging"
	"sched-sim/internal/task"
	"sched-sim/internal/trace"

	"github.com/sirupsen/logrus"
)

// admission serializes reads from the source. Every admitted task is traced
// as entering the scheduler before the insert callback takes ownership.
type admission struct {
	mu       sync.Mutex
	src      Source
	kind     Kind
	opts     Options
	admitted atomic.Int64
	logger   *logrus.Logger
}

func newAdmission(kind Kind, src Source, opts Options) *admission {
	if opts.Tracer == nil {
		opts.Tracer = trace.Discard{}
	}
	return &admission{
		src:    src,
		kind:   kind,
		opts:   opts,
		logger: logging.GetSchedulerLogger(),
	}
}

func (a *admission) admit(n, coreID int, insert func(*task.Task)) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admitLocked(n, coreID, insert)
}

// admitLocked must be called with a.mu held. A task without bursts stops the
// batch before it is traced or inserted.
func (a *admission) admitLocked(n, coreID int, insert func(*task.Task)) (int, error) {
	got, err := a.src.ReadNextN(n, func(t *task.Task) error {
		if t.Done() {
			return fmt.Errorf("task %d: %w", t.ID, ErrEmptyTask)
		}
		a.opts.Tracer.Emit(trace.SourceSched, coreID, t.ID, trace.EventEnterSched, "")
		a.admitted.Add(1)
		a.opts.Metrics.TaskAdmitted(string(a.kind), coreID)
		insert(t)
		return nil
	})
	if got > 0 {
		a.logger.WithFields(logrus.Fields{
			"scheduler": a.kind,
			"core":      coreID,
			"admitted":  got,
		}).Debug("Admitted tasks")
	}
	return got, err
}

func (a *admission) Admitted() int64 {
	return a.admitted.Load()
}

func (a *admission) Kind() Kind {
	return a.kind
}
