package scheduler

import (
	"sync"
	"time"

	"sched-sim/internal/task"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// realTimeGoodness lifts every real-time task above any normal one.
const realTimeGoodness = 1000

// Goodness rates a task for a core. Real-time tasks score 1000+rt_priority;
// normal tasks score the length of their current burst, plus one when the
// burst is bound to this core, plus 20-nice.
func Goodness(coreID int, t *task.Task) int {
	if t.Policy.RealTime() {
		return realTimeGoodness + t.RTPriority
	}
	g := 20 - t.Nice
	if b, ok := t.Current(); ok {
		g += b.DurationUS
		if b.Device == coreID {
			g++
		}
	}
	return g
}

// On keeps one shared ready list and picks the best task for the requesting
// core with a full scan, in the style of the Linux 2.4 scheduler.
type On struct {
	*admission
	mu    sync.Mutex
	ready *doublylinkedlist.List
}

func NewOn(src Source, _ int, opts Options) *On {
	return &On{
		admission: newAdmission(KindOn, src, opts),
		ready:     doublylinkedlist.New(),
	}
}

// RequestTask holds the admission lock and then the list lock across the
// low-water check, the refill and the pick, so concurrent requests never
// refill twice for the same shortfall.
func (s *On) RequestTask(coreID int) (*task.Task, error) {
	start := time.Now()

	s.admission.mu.Lock()
	defer s.admission.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Size() < s.opts.LowWater {
		if _, err := s.admitLocked(s.opts.Batch, coreID, s.insert); err != nil {
			return nil, err
		}
	}
	t := s.pick(coreID)

	s.opts.Metrics.ObserveRequest(string(KindOn), coreID, time.Since(start), s.ready.Size())
	return t, nil
}

// pick must be called with s.mu held. Ties go to the task seen first.
func (s *On) pick(coreID int) *task.Task {
	if s.ready.Empty() {
		return nil
	}
	best, bestIdx, bestGoodness := (*task.Task)(nil), -1, 0
	it := s.ready.Iterator()
	for it.Next() {
		t := it.Value().(*task.Task)
		if g := Goodness(coreID, t); bestIdx < 0 || g > bestGoodness {
			best, bestIdx, bestGoodness = t, it.Index(), g
		}
	}
	s.ready.Remove(bestIdx)
	best.MarkDequeued()
	return best
}

func (s *On) ReturnTask(_ int, t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(t)
}

// insert must be called with s.mu held.
func (s *On) insert(t *task.Task) {
	t.MarkQueued()
	s.ready.Add(t)
}

// Admit takes the admission lock before the list lock, like RequestTask.
func (s *On) Admit(n, coreID int) (int, error) {
	return s.admit(n, coreID, func(t *task.Task) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.insert(t)
	})
}

func (s *On) Queued(_ int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Size()
}
