//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// schedFIFO is SCHED_FIFO from <sched.h>.
const schedFIFO = 1

// ThreadBinder sets CPU affinity and SCHED_FIFO priority on the calling
// thread. Raising the priority usually needs CAP_SYS_NICE.
type ThreadBinder struct{}

func (ThreadBinder) Bind(hostCPU, priority int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(hostCPU)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("set affinity to cpu %d: %w", hostCPU, err)
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   schedFIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("set SCHED_FIFO priority %d: %w", priority, err)
	}
	return nil
}
