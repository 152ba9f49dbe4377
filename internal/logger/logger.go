package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the log file.
const (
	DefaultMaxSizeMB  = 1 // MB, Venus OS keeps /data small
	DefaultMaxBackups = 3 // number of backup files
	DefaultMaxAgeDays = 7 // days
)

// LevelCritical marks conditions that need an operator, such as a reboot.
const LevelCritical = slog.Level(12)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the console logger.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig enables a rotated log file in addition to the console.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the unified logging configuration.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{
			Level:      LevelInfo,
			Format:     FormatText,
			Color:      false,
			TimeStamps: true,
		},
	}
}

// ParseLevel converts a level name to its slog value.
func ParseLevel(l Level) (slog.Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(string(l)))) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", l)
	}
}

// LevelName renders a level, naming LevelCritical.
func LevelName(l slog.Level) string {
	if l >= LevelCritical {
		return "CRITICAL"
	}
	return l.String()
}

// Validate checks level and format names.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Slog.Level); err != nil {
		return err
	}
	switch c.Slog.Format {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Slog.Format)
	}
	if c.File.MaxSizeMB < 0 || c.File.MaxBackups < 0 || c.File.MaxAgeDays < 0 {
		return errors.New("log file rotation values cannot be negative")
	}
	return nil
}

// NewSlogger builds a logger writing to stdout and, when configured, the log file.
// The file stays open for the life of the process.
func (c Config) NewSlogger() *slog.Logger {
	l, _ := c.New(os.Stdout)
	return l
}

// New builds a logger writing to console and, when File.Path is set, to a
// rotated file. The returned closer releases the file.
func (c Config) New(console io.Writer) (*slog.Logger, io.Closer) {
	level, _ := ParseLevel(c.Slog.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   c.Slog.Source,
		ReplaceAttr: c.replaceAttr,
	}

	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(console, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(console, opts, c.Slog.TimeStamps)
	default:
		h = slog.NewTextHandler(console, opts)
	}

	fw := c.File.Writer()
	if fw == nil {
		return slog.New(h), nopCloser{}
	}
	fileOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: fileReplaceAttr}
	return slog.New(Fanout(h, slog.NewTextHandler(fw, fileOpts))), fw
}

// Writer returns a lumberjack writer for Path, or nil when Path is empty.
func (f FileConfig) Writer() io.WriteCloser {
	if strings.TrimSpace(f.Path) == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   f.Path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func (c Config) replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		if !c.Slog.TimeStamps {
			return slog.Attr{}
		}
	case slog.LevelKey:
		if lv, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lv))
		}
	}
	return a
}

func fileReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lv, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lv))
		}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// fanout duplicates records to several handlers.
type fanout []slog.Handler

// Fanout returns a handler that forwards every record to all hs.
func Fanout(hs ...slog.Handler) slog.Handler { return fanout(hs) }

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
