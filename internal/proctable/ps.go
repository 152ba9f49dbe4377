package proctable

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- command comes from configuration
	return exec.CommandContext(ctx, name, args...).Output()
}

// PS reads the process table by running ps and parsing its columns.
// With no Args it runs plain "ps", which lists every process on BusyBox.
type PS struct {
	Command string
	Args    []string
	Run     Runner
}

func (p PS) List(ctx context.Context) ([]Entry, error) {
	name := p.Command
	if name == "" {
		name = "ps"
	}
	run := p.Run
	if run == nil {
		run = execOutput
	}
	out, err := run(ctx, name, p.Args...)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	return ParsePS(out)
}

func (p PS) Describe() string {
	name := p.Command
	if name == "" {
		name = "ps"
	}
	return strings.TrimSpace("ps:" + name + " " + strings.Join(p.Args, " "))
}

// commandHeaders are the column titles ps implementations use for the command.
var commandHeaders = map[string]bool{"COMMAND": true, "CMD": true, "ARGS": true}

// ParsePS parses ps output. The first line must be a header containing a PID
// column and a command column; the command column and everything after it
// forms the command line.
func ParsePS(out []byte) ([]Entry, error) {
	s := bufio.NewScanner(bytes.NewReader(out))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("ps output is empty")
	}
	header := strings.Fields(s.Text())
	pidCol, cmdCol := -1, -1
	for i, h := range header {
		switch {
		case h == "PID" && pidCol < 0:
			pidCol = i
		case commandHeaders[h] && cmdCol < 0:
			cmdCol = i
		}
	}
	if pidCol < 0 || cmdCol < 0 {
		return nil, fmt.Errorf("unrecognised ps header %q", s.Text())
	}
	var entries []Entry
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) <= pidCol {
			continue
		}
		pid, err := strconv.Atoi(fields[pidCol])
		if err != nil || pid <= 0 {
			continue
		}
		var cmdline string
		if len(fields) > cmdCol {
			cmdline = strings.Join(fields[cmdCol:], " ")
		}
		entries = append(entries, Entry{PID: pid, CommandLine: cmdline})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
