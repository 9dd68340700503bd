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

package pgalloc

import (
	"fmt"
	"sync/atomic"

	"ember.dev/ember/pkg/memarch"
)

// RefCounter tracks how many virtual mappings reference each frame of a
// pool. Acquire and Release are single atomic operations: they are called
// from page fault context, which must never block on a lock a preempted
// thread might hold.
//
// RefCounter is constructed explicitly and passed to the fault handler and
// the fork duplicator, never reached through a global.
type RefCounter struct {
	base   memarch.PhysAddr
	counts []atomic.Int64
}

// NewRefCounter returns a counter covering nrFrames frames starting at base,
// all with count zero.
func NewRefCounter(base memarch.PhysAddr, nrFrames int) *RefCounter {
	return &RefCounter{
		base:   base,
		counts: make([]atomic.Int64, nrFrames),
	}
}

// ForPool returns a counter covering every frame of pool.
func ForPool(pool *Pool) *RefCounter {
	return NewRefCounter(pool.Base(), pool.NrFrames())
}

func (r *RefCounter) slot(pa memarch.PhysAddr) *atomic.Int64 {
	idx := pa.FrameIndex(r.base)
	if pa < r.base || idx >= uint64(len(r.counts)) {
		panic(fmt.Sprintf("frame address %#x outside counted range", uint64(pa)))
	}
	return &r.counts[idx]
}

// Acquire increments the frame's reference count and returns the new count.
// A return of 1 means the caller just became the sole owner.
func (r *RefCounter) Acquire(pa memarch.PhysAddr) int64 {
	return r.slot(pa).Add(1)
}

// Release decrements the frame's reference count and returns true iff the
// count reached zero, in which case the caller must return the frame to the
// allocator. Releasing a frame whose count is already zero is an invariant
// violation and panics; a silently negative count would mean a frame gets
// freed twice.
func (r *RefCounter) Release(pa memarch.PhysAddr) bool {
	v := r.slot(pa).Add(-1)
	if v < 0 {
		panic(fmt.Sprintf("reference count underflow on frame %#x", uint64(pa)))
	}
	return v == 0
}

// Count returns the frame's current reference count.
func (r *RefCounter) Count(pa memarch.PhysAddr) int64 {
	return r.slot(pa).Load()
}
