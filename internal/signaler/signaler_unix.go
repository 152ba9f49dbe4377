//go:build !windows

package signaler

import (
	"fmt"
	"syscall"
)

func send(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		// 0 and negative values address process groups
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("send %s to pid %d: %w", sig, pid, err)
	}
	return nil
}
