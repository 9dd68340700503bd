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

// Package memarch defines the address types and page geometry shared by the
// memory subsystem: virtual addresses, physical frame addresses, and access
// permission sets. All of the memory core's address arithmetic funnels
// through this package so page rounding and overflow checks live in one
// place.
package memarch

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// PageMask masks the offset within a page.
	PageMask = PageSize - 1

	// PointerSize is the size of a machine word on the target.
	PointerSize = 8

	// StackAlignment is the alignment the ABI requires of the stack
	// pointer at function entry.
	StackAlignment = 16
)

// Addr represents a generic virtual address.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ PageMask
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic("memarch.Addr.RoundUp wraps")
	}
	return addr
}

// PageAligned returns true if v is page-aligned.
func (v Addr) PageAligned() bool {
	return v&PageMask == 0
}

// PageOffset returns the offset of v into its page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// AddLength returns v + length, and whether the computation overflowed.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// AddrRange is a range of virtual addresses, [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Length returns the length of the range.
func (ar AddrRange) Length() uint64 {
	return uint64(ar.End - ar.Start)
}

// WellFormed returns true if ar.Start <= ar.End.
func (ar AddrRange) WellFormed() bool {
	return ar.Start <= ar.End
}

// IsPageAligned returns true if both ends of ar are page-aligned.
func (ar AddrRange) IsPageAligned() bool {
	return ar.Start.PageAligned() && ar.End.PageAligned()
}

// Contains returns true if ar contains the address x.
func (ar AddrRange) Contains(x Addr) bool {
	return ar.Start <= x && x < ar.End
}

// IsSupersetOf returns true if ar contains all of other.
func (ar AddrRange) IsSupersetOf(other AddrRange) bool {
	return ar.Start <= other.Start && other.End <= ar.End
}

// Overlaps returns true if ar and other share any address.
func (ar AddrRange) Overlaps(other AddrRange) bool {
	return ar.Start < other.End && other.Start < ar.End
}

// PhysAddr is the physical address of a frame. Frame lifetime is tracked by
// reference count, not by language pointers, so physical memory is only ever
// named by this type.
type PhysAddr uint64

// RoundDown returns the address rounded down to the nearest frame boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ PageMask
}

// FrameAligned returns true if p is frame-aligned.
func (p PhysAddr) FrameAligned() bool {
	return p&PageMask == 0
}

// FrameIndex returns the index of p's frame relative to base. This is the
// slot used for per-frame bookkeeping such as reference counts.
func (p PhysAddr) FrameIndex(base PhysAddr) uint64 {
	return uint64(p-base) >> PageShift
}
