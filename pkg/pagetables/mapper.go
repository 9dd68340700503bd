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

package pagetables

import (
	"errors"

	"ember.dev/ember/pkg/memarch"
)

// ErrAlreadyMapped is returned by Mapper.Map when the virtual page already
// has a present mapping. Remapping is never done implicitly; callers that
// mean it must unmap first.
var ErrAlreadyMapped = errors.New("virtual page is already mapped")

// Mapper is the page table abstraction the memory core programs against.
// The hardware-format page table walker is an external collaborator; the
// core only needs these operations.
//
// All addresses passed to a Mapper must be page-aligned.
type Mapper interface {
	// Map installs a mapping from va to the frame at pa with the given
	// flags. It returns ErrAlreadyMapped if va is already mapped.
	Map(va memarch.Addr, pa memarch.PhysAddr, flags PTEFlags) error

	// Lookup returns the flags and frame for va. ok is false if va has no
	// mapping.
	Lookup(va memarch.Addr) (flags PTEFlags, pa memarch.PhysAddr, ok bool)

	// Update rewrites the flags of an existing mapping, leaving the frame
	// unchanged. It returns ErrNotMapped if va has no mapping.
	Update(va memarch.Addr, flags PTEFlags) error

	// Remap points an existing mapping at a different frame with new
	// flags. It returns ErrNotMapped if va has no mapping.
	Remap(va memarch.Addr, pa memarch.PhysAddr, flags PTEFlags) error

	// Unmap removes the mapping for va, if any, and reports whether one
	// existed.
	Unmap(va memarch.Addr) bool

	// Invalidate discards any cached translation for va. It must be
	// called after a PTE rewrite and before the faulting instruction
	// retries.
	Invalidate(va memarch.Addr)

	// Range calls f for each mapping in ascending virtual address order
	// until f returns false.
	Range(f func(va memarch.Addr, flags PTEFlags, pa memarch.PhysAddr) bool)
}

// ErrNotMapped is returned by Update and Remap when the virtual page has no
// present mapping.
var ErrNotMapped = errors.New("virtual page is not mapped")
