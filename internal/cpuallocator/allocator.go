package cpuallocator

import (
	"fmt"
	"sort"
	"sync"

	"sched-sim/internal/host"

	"github.com/sirupsen/logrus"
)

type WorkerKind string

const (
	WorkerCPU WorkerKind = "cpu"
	WorkerIO  WorkerKind = "io"
)

// Worker identifies one simulated CPU core or I/O device.
type Worker struct {
	Kind WorkerKind
	ID   int
}

func (w Worker) String() string {
	return fmt.Sprintf("%s%d", w.Kind, w.ID)
}

// Allocator pins simulated workers to host CPUs, at most one worker per host
// CPU.
type Allocator interface {
	// Reserve pins w to cpu. It must fail if cpu is offline or already pinned
	// by a different worker.
	Reserve(w Worker, cpu int) error

	// Release frees the CPU pinned by w.
	Release(w Worker)

	// Get returns the CPU pinned by w.
	Get(w Worker) (int, bool)

	// Returns a copy of all current pins.
	Snapshot() map[Worker]int
}

var _ Allocator = (*PinAllocator)(nil)

type PinAllocator struct {
	host       *host.HostConfig
	logger     logrus.FieldLogger
	mu         sync.Mutex
	assigned   map[Worker]int
	reservedBy map[int]Worker
}

func NewPinAllocator(hostConfig *host.HostConfig, logger logrus.FieldLogger) (*PinAllocator, error) {
	if hostConfig == nil {
		return nil, fmt.Errorf("host config is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PinAllocator{
		host:       hostConfig,
		logger:     logger,
		assigned:   make(map[Worker]int),
		reservedBy: make(map[int]Worker),
	}, nil
}

func (a *PinAllocator) Reserve(w Worker, cpu int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.host.Online(cpu) {
		return fmt.Errorf("cpu %d is not online", cpu)
	}
	if owner, ok := a.reservedBy[cpu]; ok && owner != w {
		return fmt.Errorf("cpu %d already pinned by %s", cpu, owner)
	}

	a.releaseLocked(w)
	a.reservedBy[cpu] = w
	a.assigned[w] = cpu
	return nil
}

func (a *PinAllocator) Release(w Worker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(w)
}

func (a *PinAllocator) releaseLocked(w Worker) {
	cpu, ok := a.assigned[w]
	if !ok {
		return
	}
	if owner, ok := a.reservedBy[cpu]; ok && owner == w {
		delete(a.reservedBy, cpu)
	}
	delete(a.assigned, w)
}

func (a *PinAllocator) Get(w Worker) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cpu, ok := a.assigned[w]
	return cpu, ok
}

func (a *PinAllocator) Snapshot() map[Worker]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[Worker]int, len(a.assigned))
	for k, v := range a.assigned {
		out[k] = v
	}
	return out
}

// PlanRequest describes the workers to pin. Empty pin lists fall back to the
// identity layout: core c on host CPU c, device d on host CPU ioOffset+d.
type PlanRequest struct {
	NumCPU   int
	NumIO    int
	IOOffset int
	CPUPins  []int
	IOPins   []int
}

// Plan reserves a host CPU for every worker. Explicit pins must be valid;
// default pins that are offline or taken are skipped with a warning and the
// worker runs unpinned.
func (a *PinAllocator) Plan(req PlanRequest) error {
	if len(req.CPUPins) > 0 && len(req.CPUPins) != req.NumCPU {
		return fmt.Errorf("got %d cpu pins for %d cores", len(req.CPUPins), req.NumCPU)
	}
	if len(req.IOPins) > 0 && len(req.IOPins) != req.NumIO {
		return fmt.Errorf("got %d io pins for %d devices", len(req.IOPins), req.NumIO)
	}

	plan := func(kind WorkerKind, n, offset int, explicit []int) error {
		for i := 0; i < n; i++ {
			w := Worker{Kind: kind, ID: i}
			if len(explicit) > 0 {
				if err := a.Reserve(w, explicit[i]); err != nil {
					return fmt.Errorf("%s: %w", w, err)
				}
				continue
			}
			if err := a.Reserve(w, offset+i); err != nil {
				a.logger.WithFields(logrus.Fields{
					"worker": w.String(),
					"cpu":    offset + i,
				}).WithError(err).Warn("Default pin unavailable, worker will not be pinned")
			}
		}
		return nil
	}
	if err := plan(WorkerCPU, req.NumCPU, 0, req.CPUPins); err != nil {
		return err
	}
	if err := plan(WorkerIO, req.NumIO, req.IOOffset, req.IOPins); err != nil {
		return err
	}

	a.logger.WithField("pins", a.describe()).Info("Pinned simulated workers")
	return nil
}

func (a *PinAllocator) describe() []string {
	snap := a.Snapshot()
	out := make([]string, 0, len(snap))
	for w, cpu := range snap {
		out = append(out, fmt.Sprintf("%s=%d", w, cpu))
	}
	sort.Strings(out)
	return out
}
