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

// Package pagetables defines the page table entry flag word used by the
// memory core and an abstract page mapper interface over it. The copy-on-
// write encoding lives here, and only here, so the fault handler and the
// fork duplicator cannot disagree about which bit means what.
package pagetables

import "ember.dev/ember/pkg/memarch"

// PTEFlags is the flag word of a page table entry. The encoding follows the
// x86-64 layout: low permission bits, one of the architecturally-available
// bits (9-11) claimed for copy-on-write, and the no-execute bit at the top.
type PTEFlags uint64

const (
	// present indicates the mapping is valid.
	present PTEFlags = 1 << 0

	// writable indicates writes are permitted.
	writable PTEFlags = 1 << 1

	// user indicates user-mode access is permitted.
	user PTEFlags = 1 << 2

	// copyOnWrite marks a private mapping whose frame is shared until the
	// first write. Bit 9 is the first bit the architecture leaves to
	// software.
	copyOnWrite PTEFlags = 1 << 9

	// noExec forbids instruction fetch.
	noExec PTEFlags = 1 << 63
)

// Present returns true if the mapping is present.
func (f PTEFlags) Present() bool {
	return f&present != 0
}

// Writable returns true if the mapping permits writes.
func (f PTEFlags) Writable() bool {
	return f&writable != 0
}

// User returns true if the mapping permits user-mode access.
func (f PTEFlags) User() bool {
	return f&user != 0
}

// Executable returns true if the mapping permits instruction fetch.
func (f PTEFlags) Executable() bool {
	return f&noExec == 0
}

// CopyOnWrite returns true if the mapping is copy-on-write.
func (f PTEFlags) CopyOnWrite() bool {
	return f&copyOnWrite != 0
}

// SetWritable returns f with the writable bit set to w.
func (f PTEFlags) SetWritable(w bool) PTEFlags {
	if w {
		return f | writable
	}
	return f &^ writable
}

// MarkCopyOnWrite returns f with the copy-on-write bit set and the writable
// bit cleared. A COW mapping must never be writable; the pairing is enforced
// here rather than left to callers.
func (f PTEFlags) MarkCopyOnWrite() PTEFlags {
	return (f | copyOnWrite) &^ writable
}

// ClearCopyOnWrite returns f with the copy-on-write bit cleared. Whether the
// mapping becomes writable is a separate decision made by the caller.
func (f PTEFlags) ClearCopyOnWrite() PTEFlags {
	return f &^ copyOnWrite
}

// MapOpts are x86 map options.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType memarch.AccessType

	// User indicates the page is a user page.
	User bool
}

// NewPTEFlags builds a present flag word from opts.
func NewPTEFlags(opts MapOpts) PTEFlags {
	f := present
	if opts.AccessType.Write {
		f |= writable
	}
	if !opts.AccessType.Execute {
		f |= noExec
	}
	if opts.User {
		f |= user
	}
	return f
}

// Opts returns the MapOpts view of f.
func (f PTEFlags) Opts() MapOpts {
	return MapOpts{
		AccessType: memarch.AccessType{
			Read:    f.Present(),
			Write:   f.Writable(),
			Execute: f.Executable(),
		},
		User: f.User(),
	}
}
