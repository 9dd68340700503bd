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

// Package pgalloc provides the physical frame pool and the per-frame
// reference counter. The pool plays the role of the machine's physical
// memory: a contiguous run of frames backed by an anonymous host mapping,
// handed out one frame at a time.
package pgalloc

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"ember.dev/ember/pkg/memarch"
)

// ErrOutOfMemory is returned by Alloc when no frames remain.
var ErrOutOfMemory = errors.New("out of physical frames")

// poolBase is the synthetic physical address of the pool's first frame.
// Frame zero is deliberately not at physical address zero so that a zero
// PhysAddr stays recognizable as "no frame".
const poolBase memarch.PhysAddr = 0x0010_0000

// Pool is a fixed-size physical frame allocator.
//
// Alloc and Free take an internal lock: fault handlers for distinct address
// spaces may allocate concurrently. Only the reference counter must stay
// lock-free.
type Pool struct {
	mu   sync.Mutex
	mem  []byte
	base memarch.PhysAddr

	// next is the high-water mark for never-allocated frames.
	next uint64

	// free holds the indices of freed frames, reused LIFO.
	free []uint64

	// inUse tracks allocation state per frame to catch double frees.
	inUse []bool

	allocated uint64
}

// NewPool creates a pool of nrFrames frames backed by an anonymous host
// mapping.
func NewPool(nrFrames int) (*Pool, error) {
	if nrFrames <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", nrFrames)
	}
	mem, err := unix.Mmap(-1, 0, nrFrames*memarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d frames: %w", nrFrames, err)
	}
	return &Pool{
		mem:   mem,
		base:  poolBase,
		inUse: make([]bool, nrFrames),
	}, nil
}

// Destroy releases the pool's backing mapping. No frame may be used after
// Destroy returns.
func (p *Pool) Destroy() {
	if p.mem != nil {
		unix.Munmap(p.mem)
		p.mem = nil
	}
}

// Base returns the physical address of the pool's first frame.
func (p *Pool) Base() memarch.PhysAddr {
	return p.base
}

// NrFrames returns the pool's capacity in frames.
func (p *Pool) NrFrames() int {
	return len(p.inUse)
}

// Allocated returns the number of frames currently allocated. Tests use this
// to assert that an operation allocated nothing, or leaked nothing.
func (p *Pool) Allocated() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Alloc returns a zeroed frame, or ErrOutOfMemory.
func (p *Pool) Alloc() (memarch.PhysAddr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var idx uint64
	switch {
	case len(p.free) > 0:
		idx = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		clear(p.frameSlice(idx))
	case p.next < uint64(len(p.inUse)):
		// Fresh host pages are already zero.
		idx = p.next
		p.next++
	default:
		return 0, ErrOutOfMemory
	}
	p.inUse[idx] = true
	p.allocated++
	return p.base + memarch.PhysAddr(idx<<memarch.PageShift), nil
}

// Free returns a frame to the pool. Freeing a frame that is not allocated,
// or an address outside the pool, is an invariant violation and panics.
func (p *Pool) Free(pa memarch.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.frameIndex(pa)
	if !p.inUse[idx] {
		panic(fmt.Sprintf("double free of frame %#x", uint64(pa)))
	}
	p.inUse[idx] = false
	p.allocated--
	p.free = append(p.free, idx)
}

// FrameBytes returns the memory backing the frame at pa.
func (p *Pool) FrameBytes(pa memarch.PhysAddr) []byte {
	return p.frameSlice(p.frameIndex(pa))
}

func (p *Pool) frameIndex(pa memarch.PhysAddr) uint64 {
	if !pa.FrameAligned() {
		panic(fmt.Sprintf("unaligned frame address %#x", uint64(pa)))
	}
	idx := pa.FrameIndex(p.base)
	if pa < p.base || idx >= uint64(len(p.inUse)) {
		panic(fmt.Sprintf("frame address %#x outside pool [%#x, %#x)", uint64(pa), uint64(p.base), uint64(p.base)+uint64(len(p.inUse))<<memarch.PageShift))
	}
	return idx
}

func (p *Pool) frameSlice(idx uint64) []byte {
	off := idx << memarch.PageShift
	return p.mem[off : off+memarch.PageSize : off+memarch.PageSize]
}
