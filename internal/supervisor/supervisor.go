// Package supervisor sends up/down directives to the process supervisor
// that owns a service (daemontools svc on Venus OS, or s6).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrServiceNotExist = errors.New("service does not exist")

// DefaultServiceDir is where Venus OS links supervised services.
const DefaultServiceDir = "/service"

// Supervisor controls a supervised service addressed by name.
type Supervisor interface {
	// Down asks the supervisor to stop the service and keep it stopped.
	Down(ctx context.Context, service string) error
	// Up asks the supervisor to start the service and keep it running.
	Up(ctx context.Context, service string) error
	Describe() string
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- tool and service path come from configuration
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Kind names a supervisor implementation.
type Kind string

const (
	KindDaemontools Kind = "daemontools"
	KindS6          Kind = "s6"
)

// New returns the supervisor for kind rooted at serviceDir. Empty values
// select daemontools and DefaultServiceDir.
func New(kind Kind, serviceDir string) (Supervisor, error) {
	switch kind {
	case "", KindDaemontools:
		return Daemontools{ServiceDir: serviceDir}, nil
	case KindS6:
		return S6{ServiceDir: serviceDir}, nil
	default:
		return nil, fmt.Errorf("unknown supervisor %q", kind)
	}
}

// Daemontools drives services with svc -d / svc -u.
type Daemontools struct {
	ServiceDir string
	// Tool overrides the svc binary.
	Tool string
	Run  Runner
}

func (d Daemontools) Down(ctx context.Context, service string) error {
	return directive(ctx, d.Run, orDefault(d.Tool, "svc"), "-d", d.ServiceDir, service)
}

func (d Daemontools) Up(ctx context.Context, service string) error {
	return directive(ctx, d.Run, orDefault(d.Tool, "svc"), "-u", d.ServiceDir, service)
}

func (d Daemontools) Describe() string {
	return "daemontools:" + orDefault(d.ServiceDir, DefaultServiceDir)
}

// S6 drives services with s6-svc -d / s6-svc -u.
type S6 struct {
	ServiceDir string
	Tool       string
	Run        Runner
}

func (s S6) Down(ctx context.Context, service string) error {
	return directive(ctx, s.Run, orDefault(s.Tool, "s6-svc"), "-d", s.ServiceDir, service)
}

func (s S6) Up(ctx context.Context, service string) error {
	return directive(ctx, s.Run, orDefault(s.Tool, "s6-svc"), "-u", s.ServiceDir, service)
}

func (s S6) Describe() string { return "s6:" + orDefault(s.ServiceDir, DefaultServiceDir) }

// ServicePath joins the supervision directory and the service name.
func ServicePath(serviceDir, service string) string {
	return filepath.Join(orDefault(serviceDir, DefaultServiceDir), service)
}

func directive(ctx context.Context, run Runner, tool, flag, serviceDir, service string) error {
	if strings.TrimSpace(service) == "" || strings.ContainsAny(service, `/\`) {
		return fmt.Errorf("invalid service name %q", service)
	}
	path := ServicePath(serviceDir, service)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrServiceNotExist)
		}
		return fmt.Errorf("failed to check service %s: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", path, ErrServiceNotExist)
	}
	if run == nil {
		run = execCombined
	}
	output, err := run(ctx, tool, flag, path)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w, output: %s", tool, flag, path, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
