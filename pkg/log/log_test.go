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

package log

import (
	"strings"
	"testing"
	"time"
)

type testEmitter struct {
	lines []string
}

func (e *testEmitter) Emit(level Level, timestamp time.Time, format string, v ...any) {
	e.lines = append(e.lines, format)
}

func TestLevelFiltering(t *testing.T) {
	te := &testEmitter{}
	l := &BasicLogger{Level: Info, Emitter: te}

	l.Warningf("warning")
	l.Infof("info")
	l.Debugf("debug")

	want := []string{"warning", "info"}
	if len(te.lines) != len(want) {
		t.Fatalf("logged %d lines, want %d: %v", len(te.lines), len(want), te.lines)
	}
	for i, l := range te.lines {
		if l != want[i] {
			t.Errorf("line %d = %q, want %q", i, l, want[i])
		}
	}

	if l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = true at Info level")
	}
	if !l.IsLogging(Warning) {
		t.Errorf("IsLogging(Warning) = false at Info level")
	}
}

func TestWriterFormat(t *testing.T) {
	var sb strings.Builder
	w := &Writer{Next: &sb}
	w.Emit(Warning, time.Now(), "value %d", 42)

	out := sb.String()
	if !strings.HasPrefix(out, "W") {
		t.Errorf("line %q does not carry the level prefix", out)
	}
	if !strings.Contains(out, "value 42") {
		t.Errorf("line %q missing formatted message", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("line %q is not newline-terminated", out)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	te := &testEmitter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: te}, time.Hour)

	l.Infof("first")
	l.Infof("suppressed")
	l.Infof("suppressed")

	if len(te.lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %v", len(te.lines), te.lines)
	}
}

func TestRateLimitedLoggerLevelKeepsBudget(t *testing.T) {
	te := &testEmitter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: te}, time.Hour)

	// A statement below the level is dropped without consuming the
	// budget; the warning that follows still goes through.
	l.Debugf("filtered")
	l.Warningf("important")

	if len(te.lines) != 1 || te.lines[0] != "important" {
		t.Fatalf("lines = %v, want [important]", te.lines)
	}
}

func TestGlobalLevel(t *testing.T) {
	old := Log()
	defer log.Store(old)

	te := &testEmitter{}
	SetTarget(te)
	SetLevel(Debug)
	Debugf("visible")
	SetLevel(Warning)
	Debugf("hidden")

	if len(te.lines) != 1 || te.lines[0] != "visible" {
		t.Errorf("global logger lines = %v, want [visible]", te.lines)
	}
}
