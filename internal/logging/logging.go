// Package logging builds the component loggers shared by the tracker.
//
// Every component logs through a standard *log.Logger prefixed with its name
// ("[sync] ", "[daemon] ", ...). Output goes to stderr and, when a log file is
// configured, also to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log output.
type Options struct {
	// File is the rotated log file path. Empty logs to stderr only.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	// Quiet drops stderr output, keeping only the file.
	Quiet bool
}

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	file   *lumberjack.Logger
)

// Setup replaces the shared output. Call Close when the process exits.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Close()
		file = nil
	}

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return err
		}
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 3
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		output = io.Discard
	case 1:
		output = writers[0]
	default:
		output = io.MultiWriter(writers...)
	}
	return nil
}

// Close flushes and closes the log file, if any, and resets output to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	output = os.Stderr
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Writer returns the current shared output.
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// New returns a logger for component, e.g. New("sync") logs with "[sync] ".
func New(component string) *log.Logger {
	return log.New(Writer(), "["+component+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
