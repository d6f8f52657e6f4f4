// Package logging holds the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger. It is usable before Init with logrus defaults.
var Log = logrus.New()

// Options selects level, format and an optional rotating log file.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Quiet drops console output, keeping only the file sink if any.
	Quiet bool
}

// Init configures Log once at startup. Empty Level and Format fall back to
// LOG_LEVEL and LOG_FORMAT.
func Init(opts Options) *logrus.Logger {
	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if strings.ToLower(format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var sinks []io.Writer
	if !opts.Quiet {
		sinks = append(sinks, os.Stdout)
	}
	if opts.File != "" {
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		})
	}
	switch len(sinks) {
	case 0:
		Log.SetOutput(io.Discard)
	case 1:
		Log.SetOutput(sinks[0])
	default:
		Log.SetOutput(io.MultiWriter(sinks...))
	}
	return Log
}

// For returns a component-scoped entry.
func For(component string) *logrus.Entry {
	return Log.WithField("component", component)
}
