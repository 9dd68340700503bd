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

// Package mm implements address spaces: virtual memory areas, copy-on-write
// fault handling, and fork-style duplication. Physical frames and their
// reference counts are owned by pgalloc and injected; page tables are
// reached only through the pagetables.Mapper interface.
package mm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ember.dev/ember/pkg/log"
	"ember.dev/ember/pkg/memarch"
	"ember.dev/ember/pkg/pagetables"
	"ember.dev/ember/pkg/pgalloc"
)

// ErrNoMapping is returned by copy operations that touch an unmapped or
// inaccessible address.
var ErrNoMapping = errors.New("address is not mapped with the required access")

// faultLogInterval bounds how often a single address space logs from fault
// context.
const faultLogInterval = time.Second

// AddressSpace is one process's (or thread group's) view of memory. It owns
// its page tables and VMA list; frames are shared property tracked by the
// injected reference counter.
type AddressSpace struct {
	// users counts the processes sharing this address space (CLONE_VM).
	// Teardown happens when the count drops to zero.
	users atomic.Int64

	// mu protects vmas and pt. The fault handler holds it only across
	// single-page PTE reads and rewrites, never across a frame copy.
	mu sync.Mutex

	pt     pagetables.Mapper
	vmas   vmaSet
	layout Layout

	pool *pgalloc.Pool
	refs *pgalloc.RefCounter

	// newMapper constructs page tables for children created by Duplicate.
	newMapper func() pagetables.Mapper

	// faultLog is rate limited; a fault storm must not flood the log.
	faultLog log.Logger
}

// Config configures a new AddressSpace. Pool and Refs are required.
type Config struct {
	Pool *pgalloc.Pool
	Refs *pgalloc.RefCounter

	// NewMapper constructs page tables. Defaults to pagetables.New.
	NewMapper func() pagetables.Mapper

	// Layout pins the region bases. If nil, bases are randomized.
	Layout *Layout
}

// NewAddressSpace returns an empty address space with one user.
func NewAddressSpace(cfg Config) *AddressSpace {
	if cfg.Pool == nil || cfg.Refs == nil {
		panic("mm.NewAddressSpace: Pool and Refs are required")
	}
	newMapper := cfg.NewMapper
	if newMapper == nil {
		newMapper = func() pagetables.Mapper { return pagetables.New() }
	}
	var layout Layout
	if cfg.Layout != nil {
		layout = *cfg.Layout
	} else {
		layout = NewLayout()
	}
	as := &AddressSpace{
		pt:        newMapper(),
		layout:    layout,
		pool:      cfg.Pool,
		refs:      cfg.Refs,
		newMapper: newMapper,
		faultLog:  log.RateLimitedLogger(log.Log(), faultLogInterval),
	}
	as.users.Store(1)
	return as
}

// Layout returns the address space's region bases.
func (as *AddressSpace) Layout() Layout {
	return as.layout
}

// IncUsers adds a user to the address space.
func (as *AddressSpace) IncUsers() {
	if as.users.Add(1) <= 1 {
		panic("IncUsers on a torn-down address space")
	}
}

// DecUsers drops a user. The last user's call tears the address space down:
// every mapping is removed, its frame reference released, and frames whose
// count reaches zero are returned to the pool.
func (as *AddressSpace) DecUsers() {
	v := as.users.Add(-1)
	switch {
	case v < 0:
		panic("DecUsers underflow")
	case v > 0:
		return
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	var vas []memarch.Addr
	as.pt.Range(func(va memarch.Addr, _ pagetables.PTEFlags, _ memarch.PhysAddr) bool {
		vas = append(vas, va)
		return true
	})
	for _, va := range vas {
		as.unmapPageLocked(va)
	}
	as.vmas = vmaSet{}
}

// AddVMA establishes a new virtual memory area. No frames are allocated;
// pages are mapped separately.
func (as *AddressSpace) AddVMA(v VMA) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.vmas.insert(v)
}

// RemoveVMA removes the area with exactly the range ar and unmaps any of its
// pages.
func (as *AddressSpace) RemoveVMA(ar memarch.AddrRange) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	if !as.vmas.remove(ar) {
		return false
	}
	for va := ar.Start; va < ar.End; va += memarch.PageSize {
		if _, _, ok := as.pt.Lookup(va); ok {
			as.unmapPageLocked(va)
		}
	}
	return true
}

// FindVMA returns the VMA containing va.
func (as *AddressSpace) FindVMA(va memarch.Addr) (VMA, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.vmas.find(va)
}

// AllocAndMap allocates a fresh zeroed frame and maps it at va. The frame's
// reference count becomes 1. Mapping an already-mapped page fails with
// pagetables.ErrAlreadyMapped and allocates nothing lasting.
func (as *AddressSpace) AllocAndMap(va memarch.Addr, opts pagetables.MapOpts) (memarch.PhysAddr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.allocAndMapLocked(va, opts)
}

func (as *AddressSpace) allocAndMapLocked(va memarch.Addr, opts pagetables.MapOpts) (memarch.PhysAddr, error) {
	pa, err := as.pool.Alloc()
	if err != nil {
		return 0, err
	}
	if err := as.pt.Map(va, pa, pagetables.NewPTEFlags(opts)); err != nil {
		as.pool.Free(pa)
		return 0, err
	}
	as.refs.Acquire(pa)
	return pa, nil
}

// UnmapPage removes the mapping at va, dropping the frame reference and
// freeing the frame if this was the last reference.
func (as *AddressSpace) UnmapPage(va memarch.Addr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, _, ok := as.pt.Lookup(va); !ok {
		return pagetables.ErrNotMapped
	}
	as.unmapPageLocked(va)
	return nil
}

func (as *AddressSpace) unmapPageLocked(va memarch.Addr) {
	_, pa, ok := as.pt.Lookup(va)
	if !ok {
		panic(fmt.Sprintf("unmapping unmapped page %#x", uint64(va)))
	}
	as.pt.Unmap(va)
	as.pt.Invalidate(va)
	if as.refs.Release(pa) {
		as.pool.Free(pa)
	}
}

// CopyOpts controls CopyIn/CopyOut behavior.
type CopyOpts struct {
	// IgnorePermissions performs the access with kernel privilege,
	// bypassing the mapping's user permissions. The loader uses this to
	// populate read-only code pages.
	IgnorePermissions bool
}

// CopyOut writes b to virtual addresses starting at va.
func (as *AddressSpace) CopyOut(va memarch.Addr, b []byte, opts CopyOpts) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(b) > 0 {
		flags, pa, ok := as.pt.Lookup(va)
		if !ok || (!opts.IgnorePermissions && !flags.Writable()) {
			return fmt.Errorf("%w: write at %#x", ErrNoMapping, uint64(va))
		}
		frame := as.pool.FrameBytes(pa)
		off := va.PageOffset()
		n := copy(frame[off:], b)
		b = b[n:]
		va += memarch.Addr(n)
	}
	return nil
}

// CopyIn reads len(b) bytes from virtual addresses starting at va.
func (as *AddressSpace) CopyIn(va memarch.Addr, b []byte, opts CopyOpts) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(b) > 0 {
		flags, pa, ok := as.pt.Lookup(va)
		if !ok || (!opts.IgnorePermissions && !flags.Present()) {
			return fmt.Errorf("%w: read at %#x", ErrNoMapping, uint64(va))
		}
		frame := as.pool.FrameBytes(pa)
		off := va.PageOffset()
		n := copy(b, frame[off:])
		b = b[n:]
		va += memarch.Addr(n)
	}
	return nil
}

// Maps returns the VMA list in /proc/pid/maps form.
func (as *AddressSpace) Maps() string {
	as.mu.Lock()
	defer as.mu.Unlock()
	var b strings.Builder
	as.vmas.dump(&b)
	return b.String()
}
