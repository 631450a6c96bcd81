package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level orders log severities; messages below the logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Logger provides leveled logging with an optional component prefix.
// Loggers derived with Named share the underlying writers.
type Logger struct {
	out    *log.Logger
	err    *log.Logger
	level  Level
	prefix string
}

// NewLogger creates a new Logger writing to stdout/stderr.
func NewLogger(level Level) *Logger {
	return &Logger{
		out:   log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
		level: level,
	}
}

// NewDiscardLogger returns a Logger that writes nothing. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{
		out:   log.New(io.Discard, "", 0),
		err:   log.New(io.Discard, "", 0),
		level: LevelError + 1,
	}
}

// Named returns a copy of l that tags every line with [name].
func (l *Logger) Named(name string) *Logger {
	cp := *l
	cp.prefix = "[" + name + "] "
	return &cp
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) write(dst *log.Logger, lvl Level, tag, format string, args ...any) {
	if lvl < l.level {
		return
	}
	dst.Printf("[%s] %s %s%s", l.timestamp(), tag, l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.write(l.out, LevelDebug, "\033[36mDEBUG\033[0m", format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.write(l.out, LevelInfo, "\033[32mINFO\033[0m ", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(l.out, LevelWarn, "\033[33mWARN\033[0m ", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write(l.err, LevelError, "\033[31mERROR\033[0m", format, args...)
}
