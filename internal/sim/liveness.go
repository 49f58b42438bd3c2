package sim

import "sync/atomic"

// liveness is the shutdown agreement. Each core owns its flag; any I/O worker
// may declare termination once every flag reads false.
type liveness struct {
	cores      []atomic.Bool
	terminated atomic.Bool
}

func newLiveness(numCPU int) *liveness {
	l := &liveness{cores: make([]atomic.Bool, numCPU)}
	for i := range l.cores {
		l.cores[i].Store(true)
	}
	return l
}

func (l *liveness) set(core int, live bool) {
	l.cores[core].Store(live)
}

func (l *liveness) anyLive() bool {
	for i := range l.cores {
		if l.cores[i].Load() {
			return true
		}
	}
	return false
}

func (l *liveness) terminate() {
	l.terminated.Store(true)
}

func (l *liveness) done() bool {
	return l.terminated.Load()
}
