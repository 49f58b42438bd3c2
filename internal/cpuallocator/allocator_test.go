package cpuallocator

import (
	"testing"

	"sched-sim/internal/host"
)

func makeHostConfig(t *testing.T, cpus ...int) *host.HostConfig {
	t.Helper()
	if len(cpus) == 0 {
		t.Fatalf("invalid topology")
	}
	return &host.HostConfig{TotalThreads: len(cpus), OnlineCPUs: cpus}
}

func newAllocator(t *testing.T, hc *host.HostConfig) *PinAllocator {
	t.Helper()
	a, err := NewPinAllocator(hc, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	return a
}

func TestPinAllocator_ReserveRejectsOffline(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1))
	if err := a.Reserve(Worker{WorkerCPU, 0}, 3); err == nil {
		t.Fatalf("expected error reserving offline cpu")
	}
}

func TestPinAllocator_ReserveConflict(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1))
	if err := a.Reserve(Worker{WorkerCPU, 0}, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := a.Reserve(Worker{WorkerIO, 0}, 0); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestPinAllocator_ReserveMovesWorker(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1))
	w := Worker{WorkerCPU, 0}
	if err := a.Reserve(w, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := a.Reserve(w, 1); err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	// cpu 0 is free again
	if err := a.Reserve(Worker{WorkerIO, 0}, 0); err != nil {
		t.Fatalf("reserve freed cpu: %v", err)
	}
	if cpu, ok := a.Get(w); !ok || cpu != 1 {
		t.Fatalf("Get = %d, %v", cpu, ok)
	}
}

func TestPinAllocator_Release(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0))
	w := Worker{WorkerCPU, 0}
	if err := a.Reserve(w, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	a.Release(w)
	if _, ok := a.Get(w); ok {
		t.Fatalf("expected no pin after release")
	}
	if len(a.Snapshot()) != 0 {
		t.Fatalf("snapshot not empty: %v", a.Snapshot())
	}
}

func TestPinAllocator_PlanDefaults(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1, 2, 3, 4))
	err := a.Plan(PlanRequest{NumCPU: 2, NumIO: 2, IOOffset: 4})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	snap := a.Snapshot()
	want := map[Worker]int{
		{WorkerCPU, 0}: 0,
		{WorkerCPU, 1}: 1,
		{WorkerIO, 0}:  4,
	}
	if len(snap) != len(want) {
		t.Fatalf("snapshot = %v, want %v (io1 has no cpu 5)", snap, want)
	}
	for w, cpu := range want {
		if snap[w] != cpu {
			t.Fatalf("%s pinned to %d, want %d", w, snap[w], cpu)
		}
	}
}

func TestPinAllocator_PlanExplicit(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1, 2, 3))
	err := a.Plan(PlanRequest{NumCPU: 2, NumIO: 1, IOOffset: 4, CPUPins: []int{3, 2}, IOPins: []int{0}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if cpu, _ := a.Get(Worker{WorkerCPU, 0}); cpu != 3 {
		t.Fatalf("cpu0 pinned to %d, want 3", cpu)
	}
	if cpu, _ := a.Get(Worker{WorkerIO, 0}); cpu != 0 {
		t.Fatalf("io0 pinned to %d, want 0", cpu)
	}
}

func TestPinAllocator_PlanExplicitErrors(t *testing.T) {
	a := newAllocator(t, makeHostConfig(t, 0, 1))
	if err := a.Plan(PlanRequest{NumCPU: 2, NumIO: 1, IOOffset: 4, CPUPins: []int{0}}); err == nil {
		t.Fatalf("expected error for short pin list")
	}
	a = newAllocator(t, makeHostConfig(t, 0, 1))
	if err := a.Plan(PlanRequest{NumCPU: 1, NumIO: 1, IOOffset: 4, CPUPins: []int{0}, IOPins: []int{0}}); err == nil {
		t.Fatalf("expected conflict between cpu and io pins")
	}
}
