// Package signaler delivers signals to processes by PID.
package signaler

import "syscall"

// Sender delivers sig to pid.
type Sender interface {
	Send(pid int, sig syscall.Signal) error
}

// OS sends signals through the kernel.
type OS struct{}

func (OS) Send(pid int, sig syscall.Signal) error { return send(pid, sig) }
