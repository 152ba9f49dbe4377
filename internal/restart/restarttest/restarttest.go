// Package restarttest provides in-memory collaborators for driving a
// restart.Orchestrator in tests.
package restarttest

import (
	"context"
	"sync"
	"syscall"

	"github.com/loykin/venus-restart/internal/proctable"
)

// Table is an in-memory process table.
type Table struct {
	mu      sync.Mutex
	entries []proctable.Entry
	pending map[int]int
	lists   int
	err     error
}

func NewTable(entries ...proctable.Entry) *Table {
	return &Table{entries: append([]proctable.Entry(nil), entries...), pending: map[int]int{}}
}

func (t *Table) List(context.Context) ([]proctable.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists++
	if t.err != nil {
		return nil, t.err
	}
	for pid, n := range t.pending {
		n--
		if n <= 0 {
			delete(t.pending, pid)
			t.removeLocked(pid)
			continue
		}
		t.pending[pid] = n
	}
	return append([]proctable.Entry(nil), t.entries...), nil
}

func (t *Table) Describe() string { return "fake" }

// Add appends entries.
func (t *Table) Add(entries ...proctable.Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, entries...)
	t.mu.Unlock()
}

// Remove drops pid immediately and reports whether it was present.
func (t *Table) Remove(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(pid)
}

// RemoveAfter makes pid disappear from the n-th List call from now on.
// n <= 1 removes it at the next List.
func (t *Table) RemoveAfter(pid, n int) {
	t.mu.Lock()
	t.pending[pid] = n
	t.mu.Unlock()
}

// SetErr makes every List fail with err until reset with nil.
func (t *Table) SetErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Lists returns how many times List was called.
func (t *Table) Lists() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lists
}

func (t *Table) Has(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.PID == pid {
			return true
		}
	}
	return false
}

func (t *Table) removeLocked(pid int) bool {
	for i, e := range t.entries {
		if e.PID == pid {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Supervisor records directives. OnDown and OnUp run after recording.
type Supervisor struct {
	mu      sync.Mutex
	downs   []string
	ups     []string
	OnDown  func(service string)
	OnUp    func(service string)
	DownErr error
	UpErr   error
}

func (s *Supervisor) Down(_ context.Context, service string) error {
	s.mu.Lock()
	s.downs = append(s.downs, service)
	hook := s.OnDown
	s.mu.Unlock()
	if hook != nil {
		hook(service)
	}
	return s.DownErr
}

func (s *Supervisor) Up(_ context.Context, service string) error {
	s.mu.Lock()
	s.ups = append(s.ups, service)
	hook := s.OnUp
	s.mu.Unlock()
	if hook != nil {
		hook(service)
	}
	return s.UpErr
}

func (s *Supervisor) Describe() string { return "fake" }

func (s *Supervisor) Downs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downs)
}

func (s *Supervisor) Ups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ups)
}

// Sent is one delivered signal.
type Sent struct {
	PID    int
	Signal syscall.Signal
}

// Sender records signals. OnSend, when set, decides the returned error.
type Sender struct {
	mu     sync.Mutex
	sent   []Sent
	OnSend func(pid int, sig syscall.Signal) error
}

func (s *Sender) Send(pid int, sig syscall.Signal) error {
	s.mu.Lock()
	s.sent = append(s.sent, Sent{PID: pid, Signal: sig})
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		return hook(pid, sig)
	}
	return nil
}

func (s *Sender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Count returns how many times sig was sent.
func (s *Sender) Count(sig syscall.Signal) int {
	n := 0
	for _, x := range s.Sent() {
		if x.Signal == sig {
			n++
		}
	}
	return n
}
