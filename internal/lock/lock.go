// Package lock keeps two restart runs for the same service from overlapping.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another run holds the lock.
var ErrAlreadyRunning = errors.New("another restart run holds the lock")

// Lock is an exclusive advisory file lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without blocking.
// On success the file holds the caller's PID.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, path)
	}

	// advisory lock only, so writing through a second handle is fine
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks. The file is left in place so the inode stays stable
// for runs racing on it.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
