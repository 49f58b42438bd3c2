package task

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrAliased is the panic value raised when a task is inserted into a queue
// while another queue still holds it.
var ErrAliased = errors.New("task is already held by a queue")

// Policy is the scheduling class of a task. Any non-zero value is real-time.
type Policy int

const (
	PolicyNormal Policy = iota
	PolicyFIFO
	PolicyRR
)

func (p Policy) RealTime() bool {
	return p != PolicyNormal
}

func (p Policy) String() string {
	switch p {
	case PolicyNormal:
		return "normal"
	case PolicyFIFO:
		return "fifo"
	case PolicyRR:
		return "rr"
	default:
		return fmt.Sprintf("rt(%d)", int(p))
	}
}

const (
	MinNice = -20
	MaxNice = 19

	// MaxRTPriority bounds real-time priorities to [0, MaxRTPriority).
	MaxRTPriority = 100
	// NormalBasePriority is the static priority of a nice 0 task.
	NormalBasePriority = 120
	// PriorityLevels is the number of distinct static priorities.
	PriorityLevels = NormalBasePriority + MaxNice + 1
)

// Burst is one span of CPU or I/O work.
type Burst struct {
	Device     int
	DurationUS int
}

func (b Burst) Duration() time.Duration {
	return time.Duration(b.DurationUS) * time.Microsecond
}

// Task is a simulated process. A Task is held by exactly one queue or worker at
// a time; the queued mark catches violations.
type Task struct {
	ID         int
	RTPriority int
	Nice       int
	Policy     Policy
	Affinity   int // -1 when unset

	bursts []Burst
	queued atomic.Bool
}

func New(id, rtPriority, nice int, policy Policy, bursts []Burst) *Task {
	return &Task{
		ID:         id,
		RTPriority: rtPriority,
		Nice:       nice,
		Policy:     policy,
		Affinity:   -1,
		bursts:     append([]Burst(nil), bursts...),
	}
}

// Current returns the burst at the front of the sequence.
func (t *Task) Current() (Burst, bool) {
	if len(t.bursts) == 0 {
		return Burst{}, false
	}
	return t.bursts[0], true
}

// Pop consumes the front burst.
func (t *Task) Pop() Burst {
	b := t.bursts[0]
	t.bursts = t.bursts[1:]
	return b
}

// Bursts returns a copy of the remaining bursts.
func (t *Task) Bursts() []Burst {
	return append([]Burst(nil), t.bursts...)
}

func (t *Task) Remaining() int {
	return len(t.bursts)
}

// Done reports whether the burst sequence is exhausted.
func (t *Task) Done() bool {
	return len(t.bursts) == 0
}

// Priority is the static priority used to index run queue levels: the
// real-time priority for real-time tasks, 120+nice otherwise.
func (t *Task) Priority() int {
	if t.Policy.RealTime() {
		return t.RTPriority
	}
	return NormalBasePriority + t.Nice
}

// MarkQueued records that a queue took ownership. It panics with ErrAliased if
// the task is already queued elsewhere.
func (t *Task) MarkQueued() {
	if !t.queued.CompareAndSwap(false, true) {
		panic(fmt.Errorf("task %d: %w", t.ID, ErrAliased))
	}
}

// MarkDequeued records that the holding queue released the task.
func (t *Task) MarkDequeued() {
	t.queued.Store(false)
}

func (t *Task) Queued() bool {
	return t.queued.Load()
}

func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s, prio %d, %d bursts)", t.ID, t.Policy, t.Priority(), len(t.bursts))
}
