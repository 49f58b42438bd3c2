package platform

import (
	"time"
)

// Binder pins the calling OS thread to a host CPU and raises its scheduling
// priority. Callers lock their goroutine to the thread first.
type Binder interface {
	Bind(hostCPU, priority int) error
}

// NopBinder leaves the thread alone.
type NopBinder struct{}

func (NopBinder) Bind(int, int) error { return nil }

// PreciseSleep busy-waits for d. It keeps the calling thread on its CPU,
// unlike time.Sleep which parks it.
func PreciseSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
