package scheduler

import (
	"fmt"
	"math/bits"

	"sched-sim/internal/task"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// PriorityQueue is a bucket-per-level queue with a presence bitmap. Lower
// levels are served first; tasks within a level are FIFO. Pop scans at most
// ceil(levels/64) bitmap words, independent of how many tasks are queued.
type PriorityQueue struct {
	base    int
	buckets []*linkedlistqueue.Queue
	bitmap  []uint64
	size    int
}

// NewPriorityQueue creates a queue for priorities in [base, base+levels).
func NewPriorityQueue(base, levels int) *PriorityQueue {
	q := &PriorityQueue{
		base:    base,
		buckets: make([]*linkedlistqueue.Queue, levels),
		bitmap:  make([]uint64, (levels+63)/64),
	}
	for i := range q.buckets {
		q.buckets[i] = linkedlistqueue.New()
	}
	return q
}

func (q *PriorityQueue) level(prio int) int {
	lvl := prio - q.base
	if lvl < 0 || lvl >= len(q.buckets) {
		panic(fmt.Sprintf("priority %d outside [%d, %d)", prio, q.base, q.base+len(q.buckets)))
	}
	return lvl
}

// Push appends t to the bucket of its priority.
func (q *PriorityQueue) Push(t *task.Task) {
	lvl := q.level(t.Priority())
	t.MarkQueued()
	q.buckets[lvl].Enqueue(t)
	q.bitmap[lvl/64] |= 1 << (lvl % 64)
	q.size++
}

// Pop removes the oldest task of the lowest non-empty level.
func (q *PriorityQueue) Pop() (*task.Task, bool) {
	lvl, ok := q.first()
	if !ok {
		return nil, false
	}
	bucket := q.buckets[lvl]
	v, _ := bucket.Dequeue()
	if bucket.Empty() {
		q.bitmap[lvl/64] &^= 1 << (lvl % 64)
	}
	q.size--

	t := v.(*task.Task)
	t.MarkDequeued()
	return t, true
}

func (q *PriorityQueue) first() (int, bool) {
	for w, word := range q.bitmap {
		if word != 0 {
			return w*64 + bits.TrailingZeros64(word), true
		}
	}
	return 0, false
}

func (q *PriorityQueue) Len() int {
	return q.size
}

func (q *PriorityQueue) Empty() bool {
	return q.size == 0
}

// consistent reports whether the bitmap and size agree with the buckets.
func (q *PriorityQueue) consistent() bool {
	total := 0
	for lvl, b := range q.buckets {
		set := q.bitmap[lvl/64]&(1<<(lvl%64)) != 0
		if set == b.Empty() {
			return false
		}
		total += b.Size()
	}
	return total == q.size
}
