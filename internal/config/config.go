package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/venus-restart/internal/logger"
	"github.com/loykin/venus-restart/internal/proctable"
	"github.com/loykin/venus-restart/internal/restart"
	"github.com/loykin/venus-restart/internal/supervisor"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. VENUS_RESTART_TIMING_MAX_SHUTDOWN_WAIT.
const EnvPrefix = "VENUS_RESTART"

type TimingConfig struct {
	MaxShutdownWait time.Duration `toml:"max_shutdown_wait" mapstructure:"max_shutdown_wait"`
	CheckInterval   time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	KillSettle      time.Duration `toml:"kill_settle" mapstructure:"kill_settle"`
	StartupGrace    time.Duration `toml:"startup_grace" mapstructure:"startup_grace"`
}

// Restart converts to the orchestrator's timing.
func (t TimingConfig) Restart() restart.Timing {
	return restart.Timing{
		MaxShutdownWait: t.MaxShutdownWait,
		CheckInterval:   t.CheckInterval,
		KillSettle:      t.KillSettle,
		StartupGrace:    t.StartupGrace,
	}
}

type RotatorConfig struct {
	Program string `toml:"program" mapstructure:"program"`
}

type PSConfig struct {
	Command string   `toml:"command" mapstructure:"command"`
	Args    []string `toml:"args" mapstructure:"args"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Textfile is written in node-exporter textfile format after each run.
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

// Config represents the TOML file merged with defaults and environment.
type Config struct {
	Service      string        `toml:"service" mapstructure:"service"`
	Interpreter  string        `toml:"interpreter" mapstructure:"interpreter"`
	ServiceDir   string        `toml:"service_dir" mapstructure:"service_dir"`
	Supervisor   string        `toml:"supervisor" mapstructure:"supervisor"`
	ProcessTable string        `toml:"process_table" mapstructure:"process_table"`
	PS           PSConfig      `toml:"ps" mapstructure:"ps"`
	LockFile     string        `toml:"lock_file" mapstructure:"lock_file"`
	Timing       TimingConfig  `toml:"timing" mapstructure:"timing"`
	LogRotator   RotatorConfig `toml:"log_rotator" mapstructure:"log_rotator"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History      HistoryConfig `toml:"history" mapstructure:"history"`
}

var defaults = map[string]any{
	"service":                  "",
	"interpreter":              "python",
	"service_dir":              supervisor.DefaultServiceDir,
	"supervisor":               string(supervisor.KindDaemontools),
	"process_table":            string(proctable.KindGopsutil),
	"ps.command":               "ps",
	"ps.args":                  []string{},
	"lock_file":                filepath.Join(os.TempDir(), "venus-restart.lock"),
	"timing.max_shutdown_wait": 5 * time.Second,
	"timing.check_interval":    time.Second,
	"timing.kill_settle":       time.Second,
	"timing.startup_grace":     2 * time.Second,
	"log_rotator.program":      "multilog",
	"log.slog.level":           string(logger.LevelInfo),
	"log.slog.format":          string(logger.FormatText),
	"log.slog.color":           false,
	"log.slog.timestamps":      true,
	"log.slog.source":          false,
	"log.file.path":            "",
	"log.file.max_size_mb":     logger.DefaultMaxSizeMB,
	"log.file.max_backups":     logger.DefaultMaxBackups,
	"log.file.max_age_days":    logger.DefaultMaxAgeDays,
	"log.file.compress":        false,
	"metrics.enabled":          false,
	"metrics.textfile":         "",
	"history.enabled":          false,
	"history.dsn":              "",
}

// executable is swapped in tests.
var executable = os.Executable

// Load reads path (optional), applies VENUS_RESTART_* environment variables
// and then overrides, which take precedence over both. When no service name
// is configured it is derived from the directory holding the executable.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if strings.TrimSpace(c.Service) == "" {
		c.Service = ServiceFromExecutable()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ServiceFromExecutable returns the base name of the directory containing
// the running binary, the way services are laid out under /data on Venus OS.
func ServiceFromExecutable() string {
	exe, err := executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Base(filepath.Dir(exe))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return dir
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalid)
	}
	if strings.ContainsAny(c.Service, `/\`) {
		return fmt.Errorf("%w: service name %q must not contain path separators", ErrInvalid, c.Service)
	}
	if strings.TrimSpace(c.Interpreter) == "" {
		return fmt.Errorf("%w: interpreter marker is required", ErrInvalid)
	}
	switch supervisor.Kind(c.Supervisor) {
	case supervisor.KindDaemontools, supervisor.KindS6:
	default:
		return fmt.Errorf("%w: unknown supervisor %q", ErrInvalid, c.Supervisor)
	}
	switch proctable.Kind(c.ProcessTable) {
	case proctable.KindGopsutil, proctable.KindPS:
	default:
		return fmt.Errorf("%w: unknown process_table %q", ErrInvalid, c.ProcessTable)
	}
	t := c.Timing
	if t.MaxShutdownWait <= 0 || t.CheckInterval <= 0 {
		return fmt.Errorf("%w: timing.max_shutdown_wait and timing.check_interval must be positive", ErrInvalid)
	}
	if t.CheckInterval > t.MaxShutdownWait {
		return fmt.Errorf("%w: timing.check_interval %s exceeds timing.max_shutdown_wait %s", ErrInvalid, t.CheckInterval, t.MaxShutdownWait)
	}
	if t.KillSettle < 0 || t.StartupGrace < 0 {
		return fmt.Errorf("%w: timing values cannot be negative", ErrInvalid)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Textfile) == "" {
		return fmt.Errorf("%w: metrics.textfile is required when metrics are enabled", ErrInvalid)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("%w: history.dsn is required when history is enabled", ErrInvalid)
	}
	return nil
}
