// Package logging provides subsystem-scoped structured loggers for CORTEX.
//
// A single rotating logrus logger backs every subsystem entry; callers never
// reach into a package-level logger directly, they receive a *logrus.Entry
// from NewLogger(subsystem) and thread it through their component.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const subsysField = "subsys"

// Config controls where and how logs are written.
type Config struct {
	Level    string // "debug", "info", "warn", "error"
	FilePath string // empty disables file rotation, writes to stdout only
	MaxSizeMB int
	MaxBackups int
	MaxAgeDays int
}

// Root is the root logger instance that every subsystem entry derives from.
type Root struct {
	logger *logrus.Logger
}

// NewRoot builds the root logger from Config. It never panics; a bad log
// level falls back to info and a bad file path falls back to stdout.
func NewRoot(cfg Config) *Root {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableTimestamp: false,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stdout
	if cfg.FilePath != "" {
		if dir := filepath.Dir(cfg.FilePath); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
	}
	logger.SetOutput(out)

	return &Root{logger: logger}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewLogger returns a logger entry scoped to the given subsystem, e.g.
// root.NewLogger("controller") tags every line with subsys=controller.
func (r *Root) NewLogger(subsys string) *logrus.Entry {
	if subsys == "" {
		return logrus.NewEntry(r.logger)
	}
	return r.logger.WithField(subsysField, subsys)
}

// SetLevel adjusts the root logger's level at runtime. No admin endpoint
// calls it.
func (r *Root) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	r.logger.SetLevel(lvl)
	return nil
}
