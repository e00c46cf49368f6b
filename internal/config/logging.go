package config

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOutput returns the destination for log output described by c.
// A configured file is rotated by size; the returned closer must be
// called on exit.
func LogOutput(c LogConfig) (io.Writer, io.Closer) {
	if c.File != "" {
		lj := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
		}
		if c.Verbose {
			return io.MultiWriter(os.Stderr, lj), lj
		}
		return lj, lj
	}
	if c.Verbose {
		return os.Stderr, nopCloser{}
	}
	return io.Discard, nopCloser{}
}

// NewLogger returns a logger writing to w with the bracketed component
// prefix used throughout todosync.
func NewLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
