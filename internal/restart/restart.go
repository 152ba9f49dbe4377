// Package restart brings a supervised service to a clean restarted state.
//
// A run has six sequential phases: locate the running process, ask the
// supervisor to stop it and poll for its disappearance, SIGKILL it on
// timeout, signal the log rotator, start the service unless the supervisor
// already did, and count the surviving instances. A process that survives
// SIGKILL aborts the run with ErrUnkillable; nothing is retried.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/loykin/venus-restart/internal/logger"
	"github.com/loykin/venus-restart/internal/proctable"
	"github.com/loykin/venus-restart/internal/signaler"
	"github.com/loykin/venus-restart/internal/supervisor"
	"github.com/loykin/venus-restart/internal/wait"
)

// ErrUnkillable means the target survived SIGKILL. The kernel is presumed
// unhealthy and the operator has to reboot.
var ErrUnkillable = errors.New("process survived SIGKILL")

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeNotRunning Outcome = "not_running"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeFatal      Outcome = "fatal"
)

// Timing holds the polling tunables.
type Timing struct {
	MaxShutdownWait time.Duration
	CheckInterval   time.Duration
	KillSettle      time.Duration
	StartupGrace    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		MaxShutdownWait: 5 * time.Second,
		CheckInterval:   time.Second,
		KillSettle:      time.Second,
		StartupGrace:    2 * time.Second,
	}
}

// Options wires an Orchestrator. Service, Target, Table, Supervisor and
// Signals are required.
type Options struct {
	Service string
	// Target selects the service's own process.
	Target proctable.Matcher
	// Rotator selects the log multiplexer attached to the service.
	Rotator    proctable.Matcher
	Table      proctable.Table
	Supervisor supervisor.Supervisor
	Signals    signaler.Sender
	// Clock defaults to the wall clock.
	Clock  wait.Clock
	Timing Timing
	Logger *slog.Logger
}

// Report describes what a run observed and did.
type Report struct {
	Service string `json:"service"`
	// InitialPID is the process found in the first phase, 0 when none.
	InitialPID int `json:"initial_pid"`
	// InitialMatches counts every match seen in the first phase.
	InitialMatches   int       `json:"initial_matches"`
	GracefulStop     bool      `json:"graceful_stop"`
	ForceKilled      bool      `json:"force_killed"`
	RotatorPID       int       `json:"rotator_pid"`
	RotatorSignalled bool      `json:"rotator_signalled"`
	AutoRestarted    bool      `json:"auto_restarted"`
	UpIssued         bool      `json:"up_issued"`
	Outcome          Outcome   `json:"outcome"`
	PID              int       `json:"pid"`
	Count            int       `json:"count"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Orchestrator runs restarts for one service.
type Orchestrator struct {
	service string
	target  proctable.Matcher
	rotator proctable.Matcher
	table   proctable.Table
	sup     supervisor.Supervisor
	signals signaler.Sender
	clock   wait.Clock
	timing  Timing
	log     *slog.Logger
}

func New(o Options) (*Orchestrator, error) {
	switch {
	case o.Service == "":
		return nil, errors.New("service name is required")
	case o.Target == nil:
		return nil, errors.New("target matcher is required")
	case o.Table == nil:
		return nil, errors.New("process table is required")
	case o.Supervisor == nil:
		return nil, errors.New("supervisor is required")
	case o.Signals == nil:
		return nil, errors.New("signal sender is required")
	}
	if o.Timing.CheckInterval <= 0 || o.Timing.MaxShutdownWait <= 0 {
		return nil, fmt.Errorf("invalid timing %+v", o.Timing)
	}
	if o.Rotator == nil {
		o.Rotator = func(proctable.Entry) bool { return false }
	}
	if o.Clock == nil {
		o.Clock = wait.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Orchestrator{
		service: o.Service,
		target:  o.Target,
		rotator: o.Rotator,
		table:   o.Table,
		sup:     o.Supervisor,
		signals: o.Signals,
		clock:   o.Clock,
		timing:  o.Timing,
		log:     o.Logger.With("service", o.Service),
	}, nil
}

// Run performs one restart. The returned error is non-nil only when the run
// could not reach verification: ErrUnkillable, a process table failure, or
// context cancellation. A finished run with a not_running or duplicate
// outcome is not an error.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{Service: o.service, StartedAt: o.clock.Now()}

	target, found, err := o.locate(ctx, &rep)
	if err != nil {
		return o.abort(rep, err)
	}

	if found {
		if err := o.shutdown(ctx, &rep, target.PID); err != nil {
			if errors.Is(err, ErrUnkillable) {
				o.log.Log(ctx, logger.LevelCritical, "process could not be killed; a full system reboot is required",
					"pid", target.PID)
				rep.Outcome = OutcomeFatal
			}
			return o.abort(rep, err)
		}
	} else {
		o.log.Info("service is not running, skipping shutdown")
	}

	if err := o.resetLogs(ctx, &rep); err != nil {
		return o.abort(rep, err)
	}
	if err := o.start(ctx, &rep); err != nil {
		return o.abort(rep, err)
	}
	if err := o.verify(ctx, &rep); err != nil {
		return o.abort(rep, err)
	}
	rep.FinishedAt = o.clock.Now()
	return rep, nil
}

// Status counts the running instances without touching them.
func (o *Orchestrator) Status(ctx context.Context) (Report, error) {
	rep := Report{Service: o.service, StartedAt: o.clock.Now()}
	entries, err := o.table.List(ctx)
	if err != nil {
		return o.abort(rep, fmt.Errorf("list processes: %w", err))
	}
	classify(&rep, proctable.Filter(entries, o.target))
	if e, ok := proctable.Find(entries, o.rotator); ok {
		rep.RotatorPID = e.PID
	}
	rep.FinishedAt = o.clock.Now()
	return rep, nil
}

func (o *Orchestrator) abort(rep Report, err error) (Report, error) {
	rep.Error = err.Error()
	rep.FinishedAt = o.clock.Now()
	return rep, err
}

// locate takes the first matching process. Further matches are reported but
// left alone until verification.
func (o *Orchestrator) locate(ctx context.Context, rep *Report) (proctable.Entry, bool, error) {
	entries, err := o.table.List(ctx)
	if err != nil {
		return proctable.Entry{}, false, fmt.Errorf("list processes: %w", err)
	}
	matches := proctable.Filter(entries, o.target)
	rep.InitialMatches = len(matches)
	if len(matches) == 0 {
		return proctable.Entry{}, false, nil
	}
	if len(matches) > 1 {
		o.log.Warn("multiple processes match, acting on the first only",
			"count", len(matches), "pids", pids(matches))
	}
	rep.InitialPID = matches[0].PID
	o.log.Info("found running process", "pid", matches[0].PID)
	return matches[0], true, nil
}

func (o *Orchestrator) shutdown(ctx context.Context, rep *Report, pid int) error {
	o.log.Info("requesting graceful stop", "pid", pid, "supervisor", o.sup.Describe())
	if err := o.sup.Down(ctx, o.service); err != nil {
		o.log.Warn("down directive failed", "error", err)
	}

	gone, err := wait.Until(ctx, o.clock, o.timing.CheckInterval, o.timing.MaxShutdownWait, func(ctx context.Context) (bool, error) {
		alive, err := proctable.Alive(ctx, o.table, pid)
		return !alive, err
	})
	if err != nil {
		return fmt.Errorf("wait for pid %d: %w", pid, err)
	}
	if gone {
		rep.GracefulStop = true
		o.log.Info("process stopped gracefully", "pid", pid)
		return nil
	}

	o.log.Warn("graceful stop timed out, sending SIGKILL", "pid", pid, "waited", o.timing.MaxShutdownWait)
	rep.ForceKilled = true
	if err := o.signals.Send(pid, syscall.SIGKILL); err != nil {
		// ESRCH lands here when the process exited after the last poll
		o.log.Warn("SIGKILL delivery failed", "pid", pid, "error", err)
	}
	if err := o.clock.Sleep(ctx, o.timing.KillSettle); err != nil {
		return err
	}
	alive, err := proctable.Alive(ctx, o.table, pid)
	if err != nil {
		return fmt.Errorf("recheck pid %d: %w", pid, err)
	}
	if alive {
		return fmt.Errorf("%w: pid %d of %s", ErrUnkillable, pid, o.service)
	}
	o.log.Info("process killed", "pid", pid)
	return nil
}

// resetLogs asks the rotator to start a fresh log file. Every failure here
// is a warning except context cancellation.
func (o *Orchestrator) resetLogs(ctx context.Context, rep *Report) error {
	entries, err := o.table.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log.Warn("cannot look up log rotator", "error", err)
		return nil
	}
	e, ok := proctable.Find(entries, o.rotator)
	if !ok {
		o.log.Warn("log rotator not found, logs were not reset")
		return nil
	}
	rep.RotatorPID = e.PID
	if err := o.signals.Send(e.PID, syscall.SIGALRM); err != nil {
		o.log.Warn("log rotator signal failed", "pid", e.PID, "error", err)
		return nil
	}
	rep.RotatorSignalled = true
	o.log.Info("log rotator signalled", "pid", e.PID)
	return nil
}

func (o *Orchestrator) start(ctx context.Context, rep *Report) error {
	entries, err := o.table.List(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	if e, ok := proctable.Find(entries, o.target); ok {
		rep.AutoRestarted = true
		o.log.Info("service already restarted by supervisor", "pid", e.PID)
		return nil
	}
	o.log.Info("starting service", "supervisor", o.sup.Describe())
	if err := o.sup.Up(ctx, o.service); err != nil {
		o.log.Warn("up directive failed", "error", err)
	}
	rep.UpIssued = true
	return o.clock.Sleep(ctx, o.timing.StartupGrace)
}

func (o *Orchestrator) verify(ctx context.Context, rep *Report) error {
	entries, err := o.table.List(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	matches := proctable.Filter(entries, o.target)
	classify(rep, matches)
	switch rep.Outcome {
	case OutcomeSuccess:
		o.log.Info("service restarted", "pid", rep.PID)
	case OutcomeNotRunning:
		o.log.Error("service is not running after restart")
	case OutcomeDuplicate:
		o.log.Error("duplicate processes running", "count", rep.Count, "pids", pids(matches))
	}
	return nil
}

func classify(rep *Report, matches []proctable.Entry) {
	rep.Count = len(matches)
	rep.PID = 0
	switch len(matches) {
	case 0:
		rep.Outcome = OutcomeNotRunning
	case 1:
		rep.Outcome = OutcomeSuccess
		rep.PID = matches[0].PID
	default:
		rep.Outcome = OutcomeDuplicate
	}
}

func pids(entries []proctable.Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.PID
	}
	return out
}
