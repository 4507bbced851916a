// Package logging builds the component loggers of the background process.
//
// Every component logs through a stdlib *log.Logger with a bracketed prefix.
// The daemon's loggers write to stderr and to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating log file. An empty File disables it.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Output is a shared log destination.
type Output struct {
	w       io.Writer
	rotator *lumberjack.Logger
}

// Open creates an output writing to console and, when opts.File is set, to a
// rotating file. A nil console means stderr.
func Open(opts Options, console io.Writer) (*Output, error) {
	if console == nil {
		console = os.Stderr
	}
	if opts.File == "" {
		return &Output{w: console}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &Output{
		w:       io.MultiWriter(console, rotator),
		rotator: rotator,
	}, nil
}

// Writer returns the combined destination.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for a component, prefixed "[component] ".
func (o *Output) Logger(component string) *log.Logger {
	return New(o.w, component)
}

// Rotate closes the current file and starts a new one.
func (o *Output) Rotate() error {
	if o.rotator == nil {
		return nil
	}
	return o.rotator.Rotate()
}

// Close flushes and closes the log file.
func (o *Output) Close() error {
	if o.rotator == nil {
		return nil
	}
	return o.rotator.Close()
}

// New returns a logger for a component writing to w.
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
