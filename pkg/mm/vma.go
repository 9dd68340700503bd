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

package mm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"ember.dev/ember/pkg/memarch"
)

// Errors returned by VMA establishment.
var (
	// ErrWriteExec is returned when a mapping requests both write and
	// execute permission. W^X is enforced unconditionally for user
	// memory.
	ErrWriteExec = errors.New("write and execute access may not be combined")

	// ErrVMAOverlap is returned when a new region would overlap an
	// existing one.
	ErrVMAOverlap = errors.New("virtual memory area overlaps an existing area")

	// ErrBadRange is returned for unaligned or empty ranges.
	ErrBadRange = errors.New("malformed virtual memory range")
)

// VMAKind labels special regions for layout dumps and fork policy.
type VMAKind int

// VMA kinds.
const (
	KindAnonymous VMAKind = iota
	KindStack
	KindHeap
)

func (k VMAKind) String() string {
	switch k {
	case KindStack:
		return "[stack]"
	case KindHeap:
		return "[heap]"
	default:
		return ""
	}
}

// VMA is one contiguous region of a virtual address space with uniform
// permissions.
type VMA struct {
	// Range is [start, end), page-aligned.
	Range memarch.AddrRange

	// Perms is the region's access permission set.
	Perms memarch.AccessType

	// Shared marks a region whose frames are shared across address
	// spaces by design; fork never marks shared regions copy-on-write.
	Shared bool

	// Kind labels stack and heap regions.
	Kind VMAKind
}

// vmaSet is an ordered list of non-overlapping VMAs. The zero value is an
// empty set.
type vmaSet struct {
	vmas []VMA
}

// insert adds v, preserving order and rejecting overlap.
func (s *vmaSet) insert(v VMA) error {
	if !v.Range.WellFormed() || v.Range.Length() == 0 || !v.Range.IsPageAligned() {
		return fmt.Errorf("%w: %#x-%#x", ErrBadRange, uint64(v.Range.Start), uint64(v.Range.End))
	}
	if v.Perms.WriteExecute() {
		return fmt.Errorf("%w: %#x-%#x", ErrWriteExec, uint64(v.Range.Start), uint64(v.Range.End))
	}
	i := sort.Search(len(s.vmas), func(i int) bool {
		return s.vmas[i].Range.Start >= v.Range.Start
	})
	if i > 0 && s.vmas[i-1].Range.Overlaps(v.Range) {
		return fmt.Errorf("%w: %#x-%#x", ErrVMAOverlap, uint64(v.Range.Start), uint64(v.Range.End))
	}
	if i < len(s.vmas) && s.vmas[i].Range.Overlaps(v.Range) {
		return fmt.Errorf("%w: %#x-%#x", ErrVMAOverlap, uint64(v.Range.Start), uint64(v.Range.End))
	}
	s.vmas = append(s.vmas, VMA{})
	copy(s.vmas[i+1:], s.vmas[i:])
	s.vmas[i] = v
	return nil
}

// find returns the VMA containing va, if any.
func (s *vmaSet) find(va memarch.Addr) (VMA, bool) {
	i := sort.Search(len(s.vmas), func(i int) bool {
		return s.vmas[i].Range.End > va
	})
	if i < len(s.vmas) && s.vmas[i].Range.Contains(va) {
		return s.vmas[i], true
	}
	return VMA{}, false
}

// remove deletes the VMA whose range is exactly ar and reports whether one
// existed.
func (s *vmaSet) remove(ar memarch.AddrRange) bool {
	for i, v := range s.vmas {
		if v.Range == ar {
			s.vmas = append(s.vmas[:i], s.vmas[i+1:]...)
			return true
		}
	}
	return false
}

// dump writes the set in /proc/pid/maps form.
func (s *vmaSet) dump(b *strings.Builder) {
	for _, v := range s.vmas {
		private := "p"
		if v.Shared {
			private = "s"
		}
		fmt.Fprintf(b, "%08x-%08x %s%s 00000000 00:00 0", uint64(v.Range.Start), uint64(v.Range.End), v.Perms, private)
		if name := v.Kind.String(); name != "" {
			fmt.Fprintf(b, " %26s%s", "", name)
		}
		b.WriteString("\n")
	}
}
