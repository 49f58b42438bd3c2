//go:build !linux

package platform

import (
	"fmt"
	"runtime"
)

type ThreadBinder struct{}

func (ThreadBinder) Bind(hostCPU, _ int) error {
	return fmt.Errorf("binding to cpu %d is not supported on %s", hostCPU, runtime.GOOS)
}
