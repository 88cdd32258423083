// Package paplog is a minimal leveled logger wrapping the standard
// library's log.Logger, in the same spirit as the teacher's own plain
// log.Printf/log.Println calls scattered through its file-metadata and
// REPL code: no structured fields, no external sink, just a
// level-gated prefix in front of fmt.Sprintf-style output.
package paplog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level orders log severities; messages below a Logger's configured
// level are dropped before formatting.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelSilent disables logging entirely.
	LevelSilent
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "SILENT"
	}
}

// Logger is a level-gated wrapper around *log.Logger. The zero value
// is not usable; construct one with New.
type Logger struct {
	level atomic.Int32
	std   *log.Logger
}

// New builds a Logger writing to w at or above level, with each line
// prefixed by name in brackets (e.g. "[paprikadb] ").
func New(w io.Writer, name string, level Level) *Logger {
	l := &Logger{std: log.New(w, "["+name+"] ", log.LstdFlags)}
	l.level.Store(int32(level))
	return l
}

// Default builds a Logger writing to os.Stderr at LevelInfo.
func Default(name string) *Logger {
	return New(os.Stderr, name, LevelInfo)
}

// SetLevel changes the minimum level logged, safe for concurrent use.
func (l *Logger) SetLevel(level Level) { l.level.Store(int32(level)) }

func (l *Logger) enabled(level Level) bool { return level >= Level(l.level.Load()) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.enabled(level) {
		return
	}
	l.std.Output(3, fmt.Sprintf("%s: %s", level, fmt.Sprintf(format, args...)))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
