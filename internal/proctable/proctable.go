// Package proctable exposes the OS process table as typed records and the
// predicates used to pick a service's processes out of it.
package proctable

import (
	"context"
	"fmt"
	"strings"
)

// Entry is one row of the process table.
type Entry struct {
	PID         int    `json:"pid"`
	CommandLine string `json:"command_line"`
}

// Table lists running processes. Implementations must be safe for concurrent use.
type Table interface {
	List(ctx context.Context) ([]Entry, error)
	// Describe returns a human-readable name of the backend.
	Describe() string
}

// Matcher selects entries of interest.
type Matcher func(Entry) bool

// ContainsAll matches entries whose command line contains every non-empty
// marker. With no non-empty markers it matches nothing.
func ContainsAll(markers ...string) Matcher {
	ms := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			ms = append(ms, m)
		}
	}
	return func(e Entry) bool {
		if len(ms) == 0 {
			return false
		}
		for _, m := range ms {
			if !strings.Contains(e.CommandLine, m) {
				return false
			}
		}
		return true
	}
}

// ServiceMatcher matches the interpreter process running the named service.
func ServiceMatcher(interpreter, service string) Matcher {
	return ContainsAll(interpreter, service)
}

// RotatorMatcher matches the log multiplexer attached to the named service.
func RotatorMatcher(program, service string) Matcher {
	return ContainsAll(program, service)
}

// Except returns a matcher that accepts what m accepts minus the given PIDs.
func (m Matcher) Except(pids ...int) Matcher {
	return func(e Entry) bool {
		for _, p := range pids {
			if e.PID == p {
				return false
			}
		}
		return m(e)
	}
}

// Find returns the first entry accepted by m.
func Find(entries []Entry, m Matcher) (Entry, bool) {
	for _, e := range entries {
		if m(e) {
			return e, true
		}
	}
	return Entry{}, false
}

// Filter returns all entries accepted by m, preserving order.
func Filter(entries []Entry, m Matcher) []Entry {
	var out []Entry
	for _, e := range entries {
		if m(e) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries m accepts.
func Count(entries []Entry, m Matcher) int { return len(Filter(entries, m)) }

// Alive reports whether pid is present in the table, regardless of its command line.
func Alive(ctx context.Context, t Table, pid int) (bool, error) {
	entries, err := t.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.PID == pid {
			return true, nil
		}
	}
	return false, nil
}

// Kind names a process table backend.
type Kind string

const (
	KindGopsutil Kind = "gopsutil"
	KindPS       Kind = "ps"
)

// New returns the backend for kind. ps configures the ps backend and is
// ignored otherwise. An empty kind selects gopsutil.
func New(kind Kind, ps PS) (Table, error) {
	switch kind {
	case "", KindGopsutil:
		return Gopsutil{}, nil
	case KindPS:
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown process table %q", kind)
	}
}
