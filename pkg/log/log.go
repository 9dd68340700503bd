// Copyright 2026 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a minimal leveled logging facility for the kernel
// core. Loggers write through an Emitter, so output format and destination
// are swappable without touching call sites.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level uint32

// The set of levels, in decreasing order of severity.
const (
	// Warning indicates a problem the kernel can tolerate but the operator
	// should know about.
	Warning Level = iota

	// Info is standard operational logging.
	Info

	// Debug is verbose logging for development.
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

// Emitter is the final destination for log lines.
type Emitter interface {
	// Emit emits the given log statement.
	Emit(level Level, timestamp time.Time, format string, v ...any)
}

// Writer writes log lines to an io.Writer.
type Writer struct {
	// Next is where output is written.
	Next io.Writer

	// mu serializes writes so concurrent log lines do not interleave.
	mu sync.Mutex
}

// Emit implements Emitter.Emit.
func (w *Writer) Emit(level Level, timestamp time.Time, format string, v ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.Next, "%c%s] ", level.String()[0], timestamp.Format("0102 15:04:05.000000"))
	fmt.Fprintf(w.Next, format, v...)
	fmt.Fprintln(w.Next)
}

// Logger is a high-level logging interface. Components hold a Logger rather
// than calling the package-level functions when they need rate limiting or a
// private destination.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff this level is being logged. This may be
	// used to short-circuit expensive operations for debugging calls.
	IsLogging(level Level) bool
}

// BasicLogger is the default implementation of Logger.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(Debug, time.Now(), format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(Info, time.Now(), format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(Warning, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return level <= l.Level
}

// log is the global logger.
var log atomic.Pointer[BasicLogger]

// Log retrieves the global logger.
func Log() *BasicLogger {
	return log.Load()
}

// SetTarget sets the global logger's emitter.
func SetTarget(target Emitter) {
	old := Log()
	log.Store(&BasicLogger{Level: old.Level, Emitter: target})
}

// SetLevel sets the global logger's level.
func SetLevel(newLevel Level) {
	old := Log()
	log.Store(&BasicLogger{Level: newLevel, Emitter: old.Emitter})
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

func init() {
	log.Store(&BasicLogger{Level: Info, Emitter: &Writer{Next: os.Stderr}})
}
