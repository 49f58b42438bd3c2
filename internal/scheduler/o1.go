package scheduler

import (
	"sync"
	"time"

	"sched-sim/internal/task"

	"github.com/sirupsen/logrus"
)

const (
	normalBase   = task.MaxRTPriority
	normalLevels = task.PriorityLevels - task.MaxRTPriority
)

// runqueue is one core's private state. Real-time tasks always go to
// realtime; normal tasks are admitted to active and return to expired.
type runqueue struct {
	mu       sync.Mutex
	realtime *PriorityQueue
	active   *PriorityQueue
	expired  *PriorityQueue
}

func newRunqueue() *runqueue {
	return &runqueue{
		realtime: NewPriorityQueue(0, task.MaxRTPriority),
		active:   NewPriorityQueue(normalBase, normalLevels),
		expired:  NewPriorityQueue(normalBase, normalLevels),
	}
}

func (rq *runqueue) len() int {
	return rq.realtime.Len() + rq.active.Len() + rq.expired.Len()
}

// O1 is a per-core multilevel priority scheduler in the style of the Linux
// O(1) scheduler.
type O1 struct {
	*admission
	cores []*runqueue
}

func NewO1(src Source, numCPU int, opts Options) *O1 {
	s := &O1{
		admission: newAdmission(KindO1, src, opts),
		cores:     make([]*runqueue, numCPU),
	}
	for i := range s.cores {
		s.cores[i] = newRunqueue()
	}
	return s
}

func (s *O1) RequestTask(coreID int) (*task.Task, error) {
	start := time.Now()
	rq := s.cores[coreID]

	rq.mu.Lock()
	queued := rq.len()
	rq.mu.Unlock()
	if queued < s.opts.LowWater {
		if _, err := s.Admit(s.opts.Batch, coreID); err != nil {
			return nil, err
		}
	}

	rq.mu.Lock()
	t := s.pick(coreID, rq)
	queued = rq.len()
	rq.mu.Unlock()

	s.opts.Metrics.ObserveRequest(string(KindO1), coreID, time.Since(start), queued)
	return t, nil
}

// pick must be called with rq.mu held.
func (s *O1) pick(coreID int, rq *runqueue) *task.Task {
	if t, ok := rq.realtime.Pop(); ok {
		return t
	}
	if t, ok := rq.active.Pop(); ok {
		return t
	}
	if rq.expired.Empty() {
		return nil
	}

	rq.active, rq.expired = rq.expired, rq.active
	s.opts.Metrics.Rotated(coreID)
	s.logger.WithFields(logrus.Fields{
		"core":   coreID,
		"active": rq.active.Len(),
	}).Debug("Swapped active and expired run queues")

	t, _ := rq.active.Pop()
	return t
}

func (s *O1) ReturnTask(coreID int, t *task.Task) {
	rq := s.cores[coreID]
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if t.Policy.RealTime() {
		rq.realtime.Push(t)
	} else {
		rq.expired.Push(t)
	}
}

func (s *O1) Admit(n, coreID int) (int, error) {
	rq := s.cores[coreID]
	return s.admit(n, coreID, func(t *task.Task) {
		rq.mu.Lock()
		defer rq.mu.Unlock()
		if t.Policy.RealTime() {
			rq.realtime.Push(t)
		} else {
			rq.active.Push(t)
		}
	})
}

func (s *O1) Queued(coreID int) int {
	rq := s.cores[coreID]
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.len()
}
