//go:build windows

package signaler

import (
	"errors"
	"syscall"
)

func send(int, syscall.Signal) error {
	return errors.New("signal delivery is not supported on windows")
}
