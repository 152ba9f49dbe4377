package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/venus-restart/internal/logger"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "venus-restart.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", map[string]any{"service": "dbus-mqtt-devices"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Timing.MaxShutdownWait != 5*time.Second || c.Timing.CheckInterval != time.Second ||
		c.Timing.KillSettle != time.Second || c.Timing.StartupGrace != 2*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", c.Timing)
	}
	if c.Interpreter != "python" || c.LogRotator.Program != "multilog" || c.ServiceDir != "/service" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Supervisor != "daemontools" || c.ProcessTable != "gopsutil" {
		t.Fatalf("unexpected backends: %q %q", c.Supervisor, c.ProcessTable)
	}
	if c.Log.Slog.Level != logger.LevelInfo || !c.Log.Slog.TimeStamps {
		t.Fatalf("unexpected log defaults: %+v", c.Log)
	}
}

func TestLoadFromTOML(t *testing.T) {
	file := writeTOML(t, `
service = "dbus-mqtt-devices"
interpreter = "python3"
supervisor = "s6"
process_table = "ps"
lock_file = "/run/restart.lock"

[ps]
command = "busybox"
args = ["ps"]

[timing]
max_shutdown_wait = "10s"
check_interval = "500ms"
kill_settle = "2s"
startup_grace = "3s"

[log_rotator]
program = "s6-log"

[log.slog]
level = "debug"
format = "json"

[log.file]
path = "/data/log/restart.log"
max_backups = 5

[metrics]
enabled = true
textfile = "/run/node-exporter/venus_restart.prom"

[history]
enabled = true
dsn = "sqlite:///data/restart.db"
`)
	c, err := Load(file, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Service != "dbus-mqtt-devices" || c.Interpreter != "python3" || c.Supervisor != "s6" || c.ProcessTable != "ps" {
		t.Fatalf("unexpected top level: %+v", c)
	}
	if c.PS.Command != "busybox" || len(c.PS.Args) != 1 || c.PS.Args[0] != "ps" {
		t.Fatalf("unexpected ps: %+v", c.PS)
	}
	if c.Timing.MaxShutdownWait != 10*time.Second || c.Timing.CheckInterval != 500*time.Millisecond {
		t.Fatalf("unexpected timing: %+v", c.Timing)
	}
	rt := c.Timing.Restart()
	if rt.KillSettle != 2*time.Second || rt.StartupGrace != 3*time.Second {
		t.Fatalf("unexpected restart timing: %+v", rt)
	}
	if c.LogRotator.Program != "s6-log" || c.LockFile != "/run/restart.lock" {
		t.Fatalf("unexpected rotator/lock: %+v", c)
	}
	if c.Log.Slog.Level != logger.LevelDebug || c.Log.Slog.Format != logger.FormatJSON {
		t.Fatalf("unexpected slog: %+v", c.Log.Slog)
	}
	if c.Log.File.Path != "/data/log/restart.log" || c.Log.File.MaxBackups != 5 || c.Log.File.MaxAgeDays != logger.DefaultMaxAgeDays {
		t.Fatalf("unexpected file log: %+v", c.Log.File)
	}
	if !c.Metrics.Enabled || !c.History.Enabled || c.History.DSN != "sqlite:///data/restart.db" {
		t.Fatalf("unexpected metrics/history: %+v %+v", c.Metrics, c.History)
	}
}

func TestEnvOverridesFileAndOverridesWin(t *testing.T) {
	file := writeTOML(t, `
service = "from-file"
[timing]
max_shutdown_wait = "10s"
`)
	t.Setenv("VENUS_RESTART_TIMING_MAX_SHUTDOWN_WAIT", "7s")
	t.Setenv("VENUS_RESTART_SERVICE", "from-env")
	t.Setenv("VENUS_RESTART_LOG_SLOG_LEVEL", "warn")

	c, err := Load(file, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Timing.MaxShutdownWait != 7*time.Second || c.Service != "from-env" || c.Log.Slog.Level != logger.LevelWarn {
		t.Fatalf("env not applied: %+v", c)
	}

	c, err = Load(file, map[string]any{"service": "from-flag"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Service != "from-flag" {
		t.Fatalf("override should win, got %q", c.Service)
	}
}

func TestServiceDerivedFromExecutable(t *testing.T) {
	old := executable
	t.Cleanup(func() { executable = old })
	executable = func() (string, error) { return "/data/dbus-mqtt-devices/venus-restart", nil }

	c, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Service != "dbus-mqtt-devices" {
		t.Fatalf("expected derived service, got %q", c.Service)
	}

	c, err = Load("", map[string]any{"service": "explicit"})
	if err != nil || c.Service != "explicit" {
		t.Fatalf("explicit service must win: %v %v", c, err)
	}

	executable = func() (string, error) { return "", errors.New("no exe") }
	if _, err := Load("", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid without a service, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"path in service":     {"service": "../x"},
		"empty interpreter":   {"interpreter": " "},
		"unknown supervisor":  {"supervisor": "systemd"},
		"unknown table":       {"process_table": "procfs"},
		"zero wait":           {"timing.max_shutdown_wait": "0s"},
		"interval above wait": {"timing.check_interval": "6s"},
		"negative grace":      {"timing.startup_grace": "-1s"},
		"bad log level":       {"log.slog.level": "loud"},
		"metrics no file":     {"metrics.enabled": true},
		"history no dsn":      {"history.enabled": true},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := o["service"]; !ok {
				o["service"] = "svc"
			}
			if _, err := Load("", o); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
