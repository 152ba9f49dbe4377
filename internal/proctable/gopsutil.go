package proctable

import (
	"context"
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Gopsutil reads the process table through gopsutil (/proc on Linux).
type Gopsutil struct{}

func (Gopsutil) List(ctx context.Context) ([]Entry, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]Entry, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			// exited between the scan and the read
			continue
		}
		if cmdline == "" {
			// kernel threads have no argv; ps shows them bracketed
			if name, err := p.NameWithContext(ctx); err == nil {
				cmdline = "[" + name + "]"
			}
		}
		out = append(out, Entry{PID: int(p.Pid), CommandLine: cmdline})
	}
	return out, nil
}

func (Gopsutil) Describe() string { return "gopsutil" }
