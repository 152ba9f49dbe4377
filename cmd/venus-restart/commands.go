package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loykin/venus-restart/internal/config"
	"github.com/loykin/venus-restart/internal/lock"
	"github.com/loykin/venus-restart/internal/proctable"
	"github.com/loykin/venus-restart/internal/restart"
	"github.com/loykin/venus-restart/internal/signaler"
	"github.com/loykin/venus-restart/internal/supervisor"
	"github.com/loykin/venus-restart/internal/wait"
)

// env holds the collaborators that touch the host. Tests swap them.
type env struct {
	stdout     io.Writer
	stderr     io.Writer
	table      func(cfg *config.Config) (proctable.Table, error)
	supervisor func(cfg *config.Config) (supervisor.Supervisor, error)
	signals    signaler.Sender
	clock      wait.Clock
	selfPID    int
}

func defaultEnv() env {
	return env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		table: func(cfg *config.Config) (proctable.Table, error) {
			return proctable.New(proctable.Kind(cfg.ProcessTable), proctable.PS{Command: cfg.PS.Command, Args: cfg.PS.Args})
		},
		supervisor: func(cfg *config.Config) (supervisor.Supervisor, error) {
			return supervisor.New(supervisor.Kind(cfg.Supervisor), cfg.ServiceDir)
		},
		signals: signaler.OS{},
		clock:   wait.RealClock{},
		selfPID: os.Getpid(),
	}
}

type command struct {
	env env
}

// session is a loaded config plus a ready orchestrator.
type session struct {
	cfg   *config.Config
	log   *slog.Logger
	orch  *restart.Orchestrator
	close func()
}

func (c *command) open(g GlobalFlags) (*session, error) {
	cfg, err := config.Load(g.ConfigPath, g.overrides())
	if err != nil {
		return nil, err
	}
	log, closer := cfg.Log.New(c.env.stderr)

	table, err := c.env.table(cfg)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("process table: %w", err)
	}
	sup, err := c.env.supervisor(cfg)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	orch, err := restart.New(restart.Options{
		Service: cfg.Service,
		// never match ourselves, our command line carries the service name too
		Target:     proctable.ServiceMatcher(cfg.Interpreter, cfg.Service).Except(c.env.selfPID),
		Rotator:    proctable.RotatorMatcher(cfg.LogRotator.Program, cfg.Service).Except(c.env.selfPID),
		Table:      table,
		Supervisor: sup,
		Signals:    c.env.signals,
		Clock:      c.env.clock,
		Timing:     cfg.Timing.Restart(),
		Logger:     log,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	log.Debug("configured",
		"service", cfg.Service,
		"process_table", table.Describe(),
		"supervisor", sup.Describe(),
		"config", g.ConfigPath)
	return &session{cfg: cfg, log: log, orch: orch, close: func() { _ = closer.Close() }}, nil
}

// Restart runs one restart. Only a run that could not reach verification
// returns an error.
func (c *command) Restart(ctx context.Context, g GlobalFlags, f RestartFlags) error {
	s, err := c.open(g)
	if err != nil {
		return err
	}
	defer s.close()

	l, err := lock.Acquire(s.cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	rep, runErr := s.orch.Run(ctx)
	// recording must not be cut short by the signal that cancelled the run
	recCtx := context.WithoutCancel(ctx)
	recordMetrics(s.cfg, rep, s.log)
	recordHistory(recCtx, s.cfg, rep, s.log)

	if err := c.print(rep, f.JSON); err != nil {
		return err
	}
	if runErr != nil {
		if errors.Is(runErr, restart.ErrUnkillable) {
			return fmt.Errorf("%w; reboot the system", runErr)
		}
		return runErr
	}
	return nil
}

// Status reports running instances without changing anything.
func (c *command) Status(ctx context.Context, g GlobalFlags, f StatusFlags) error {
	s, err := c.open(g)
	if err != nil {
		return err
	}
	defer s.close()

	rep, err := s.orch.Status(ctx)
	if err != nil {
		return err
	}
	return c.print(rep, f.JSON)
}

func (c *command) print(rep restart.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.env.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	_, err := fmt.Fprintln(c.env.stdout, summary(rep))
	return err
}

func summary(rep restart.Report) string {
	switch rep.Outcome {
	case restart.OutcomeSuccess:
		return fmt.Sprintf("%s: running (pid %d)", rep.Service, rep.PID)
	case restart.OutcomeNotRunning:
		return fmt.Sprintf("%s: not running", rep.Service)
	case restart.OutcomeDuplicate:
		return fmt.Sprintf("%s: %d instances running", rep.Service, rep.Count)
	case restart.OutcomeFatal:
		return fmt.Sprintf("%s: pid %d could not be killed, reboot required", rep.Service, rep.InitialPID)
	default:
		return fmt.Sprintf("%s: aborted: %s", rep.Service, rep.Error)
	}
}
