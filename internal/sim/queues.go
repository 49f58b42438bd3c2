package sim

import (
	"sync"
	"sync/atomic"

	"sched-sim/internal/task"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

type ioRequest struct {
	origin int
	task   *task.Task
}

// deviceQueue is the FIFO in front of one I/O device. serving stays set from
// the pop until the served task is on its return queue.
type deviceQueue struct {
	mu      sync.Mutex
	fifo    *linkedlistqueue.Queue
	serving atomic.Bool
}

func newDeviceQueue() *deviceQueue {
	return &deviceQueue{fifo: linkedlistqueue.New()}
}

func (d *deviceQueue) push(req ioRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req.task.MarkQueued()
	d.fifo.Enqueue(req)
}

func (d *deviceQueue) pop() (ioRequest, bool) {
	d.mu.Lock()
	v, ok := d.fifo.Dequeue()
	if ok {
		d.serving.Store(true)
	}
	d.mu.Unlock()
	if !ok {
		return ioRequest{}, false
	}
	req := v.(ioRequest)
	req.task.MarkDequeued()
	return req, true
}

func (d *deviceQueue) served() {
	d.serving.Store(false)
}

// idle reports an empty queue that nobody holds and no task in service.
func (d *deviceQueue) idle() bool {
	if !d.mu.TryLock() {
		return false
	}
	defer d.mu.Unlock()
	return d.fifo.Empty() && !d.serving.Load()
}

func (d *deviceQueue) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fifo.Size()
}

// returnQueue holds tasks back from I/O for one core.
type returnQueue struct {
	mu   sync.Mutex
	fifo *linkedlistqueue.Queue
}

func newReturnQueue() *returnQueue {
	return &returnQueue{fifo: linkedlistqueue.New()}
}

func (r *returnQueue) push(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.MarkQueued()
	r.fifo.Enqueue(t)
}

// drain takes the whole queue in one swap.
func (r *returnQueue) drain() []*task.Task {
	r.mu.Lock()
	q := r.fifo
	r.fifo = linkedlistqueue.New()
	r.mu.Unlock()

	out := make([]*task.Task, 0, q.Size())
	for {
		v, ok := q.Dequeue()
		if !ok {
			return out
		}
		t := v.(*task.Task)
		t.MarkDequeued()
		out = append(out, t)
	}
}

func (r *returnQueue) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifo.Empty()
}

func (r *returnQueue) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifo.Size()
}
