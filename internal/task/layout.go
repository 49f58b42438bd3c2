package task

import "fmt"

// Layout describes the simulated machine's device id space. Ids below
// IOOffset are CPU work; ids in [IOOffset, IOOffset+NumIO) address I/O devices.
type Layout struct {
	NumCPU   int
	NumIO    int
	IOOffset int
}

func (l Layout) IsIO(device int) bool {
	return device >= l.IOOffset
}

// IODevice maps a device id to an I/O device index.
func (l Layout) IODevice(device int) int {
	return device - l.IOOffset
}

// ValidateBurst checks that a burst targets an existing device and lasts a
// positive time.
func (l Layout) ValidateBurst(b Burst) error {
	if b.DurationUS <= 0 {
		return fmt.Errorf("burst on device %d has non-positive duration %d", b.Device, b.DurationUS)
	}
	if b.Device < 0 {
		return fmt.Errorf("negative device id %d", b.Device)
	}
	if l.IsIO(b.Device) && l.IODevice(b.Device) >= l.NumIO {
		return fmt.Errorf("device id %d addresses I/O device %d, only %d configured", b.Device, l.IODevice(b.Device), l.NumIO)
	}
	return nil
}
