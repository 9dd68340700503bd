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

package loader

import (
	"bytes"
	"errors"
)

const (
	// interpreterScriptMagic identifies an interpreter script.
	interpreterScriptMagic = "#!"

	// interpMaxLineLength is the maximum length for the first line of an
	// interpreter script.
	//
	// From execve(2): "A maximum line length of 127 characters is allowed
	// for the first line in a #! executable shell script."
	interpMaxLineLength = 127
)

// ErrNotScript indicates the image is not an interpreter script.
var ErrNotScript = errors.New("not an interpreter script")

// ParseInterpreterScript returns the interpreter path and the rewritten
// argv for a "#!" script. Callers try this after elf.ParseHeader reports
// ErrNotELF.
func ParseInterpreterScript(filename string, image []byte, argv []string) (newpath string, newargv []string, err error) {
	if len(image) < 2 || !bytes.Equal(image[:2], []byte(interpreterScriptMagic)) {
		return "", nil, ErrNotScript
	}
	// Ignore #!.
	line := image[2:]
	if len(line) > interpMaxLineLength {
		// Linux silently truncates the remainder of the line if it
		// exceeds interpMaxLineLength.
		line = line[:interpMaxLineLength]
	}
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	// Skip any whitespace before the interpreter.
	line = bytes.TrimLeft(line, " \t")

	// Linux only looks for a space or tab delimiting the interpreter and
	// arg.
	//
	// execve(2): "On Linux, the entire string following the interpreter
	// name is passed as a single argument to the interpreter, and this
	// string can include white space."
	interp := line
	var arg []byte
	if i := bytes.IndexAny(line, " \t"); i >= 0 {
		interp = line[:i]
		if i+1 < len(line) {
			arg = bytes.TrimLeft(line[i+1:], " \t")
		}
	}
	if len(interp) == 0 {
		return "", nil, ErrNotScript
	}

	// Build the new argument list:
	//
	// 1. The interpreter.
	newargv = append(newargv, string(interp))

	// 2. The optional interpreter argument.
	if len(arg) > 0 {
		newargv = append(newargv, string(arg))
	}

	// 3. The original arguments. The original argv[0] is replaced with
	// the full script filename.
	if len(argv) > 0 {
		argv[0] = filename
	} else {
		argv = []string{filename}
	}
	newargv = append(newargv, argv...)

	return string(interp), newargv, nil
}
