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
	"fmt"
	"sort"
	"sync/atomic"

	"ember.dev/ember/pkg/memarch"
)

// PageTables is a software Mapper. It stands in for the hardware page table
// walker: same contract, no architecture dependence, so the fault handler
// and the fork path can be exercised deterministically.
//
// PageTables is not synchronized; the owning address space serializes access
// with its own lock, mirroring how the real walker is driven.
type PageTables struct {
	entries map[memarch.Addr]pte

	// invalidations counts Invalidate calls. It stands in for TLB
	// shootdown; tests assert that a PTE rewrite was paired with one.
	invalidations atomic.Uint64
}

type pte struct {
	flags PTEFlags
	pa    memarch.PhysAddr
}

// New returns an empty PageTables.
func New() *PageTables {
	return &PageTables{entries: make(map[memarch.Addr]pte)}
}

func checkAligned(va memarch.Addr) {
	if !va.PageAligned() {
		panic(fmt.Sprintf("unaligned virtual address %#x", uint64(va)))
	}
}

// Map implements Mapper.Map.
func (p *PageTables) Map(va memarch.Addr, pa memarch.PhysAddr, flags PTEFlags) error {
	checkAligned(va)
	if _, ok := p.entries[va]; ok {
		return ErrAlreadyMapped
	}
	p.entries[va] = pte{flags: flags, pa: pa}
	return nil
}

// Lookup implements Mapper.Lookup.
func (p *PageTables) Lookup(va memarch.Addr) (PTEFlags, memarch.PhysAddr, bool) {
	e, ok := p.entries[va.RoundDown()]
	return e.flags, e.pa, ok
}

// Update implements Mapper.Update.
func (p *PageTables) Update(va memarch.Addr, flags PTEFlags) error {
	checkAligned(va)
	e, ok := p.entries[va]
	if !ok {
		return ErrNotMapped
	}
	e.flags = flags
	p.entries[va] = e
	return nil
}

// Remap implements Mapper.Remap.
func (p *PageTables) Remap(va memarch.Addr, pa memarch.PhysAddr, flags PTEFlags) error {
	checkAligned(va)
	if _, ok := p.entries[va]; !ok {
		return ErrNotMapped
	}
	p.entries[va] = pte{flags: flags, pa: pa}
	return nil
}

// Unmap implements Mapper.Unmap.
func (p *PageTables) Unmap(va memarch.Addr) bool {
	checkAligned(va)
	if _, ok := p.entries[va]; !ok {
		return false
	}
	delete(p.entries, va)
	return true
}

// Invalidate implements Mapper.Invalidate.
func (p *PageTables) Invalidate(va memarch.Addr) {
	p.invalidations.Add(1)
}

// Invalidations returns the number of Invalidate calls made so far.
func (p *PageTables) Invalidations() uint64 {
	return p.invalidations.Load()
}

// Mapped returns the number of present mappings.
func (p *PageTables) Mapped() int {
	return len(p.entries)
}

// Range implements Mapper.Range.
func (p *PageTables) Range(f func(va memarch.Addr, flags PTEFlags, pa memarch.PhysAddr) bool) {
	vas := make([]memarch.Addr, 0, len(p.entries))
	for va := range p.entries {
		vas = append(vas, va)
	}
	sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })
	for _, va := range vas {
		e := p.entries[va]
		if !f(va, e.flags, e.pa) {
			return
		}
	}
}
