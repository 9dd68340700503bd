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
	"crypto/rand"
	"encoding/binary"

	"ember.dev/ember/pkg/memarch"
)

// Layout constants for a 64-bit user address space. These follow the Linux
// x86-64 values.
const (
	// MaxUserAddr is the maximum userspace address.
	MaxUserAddr memarch.Addr = (1 << 47) - memarch.PageSize

	// maxStackRand is the maximum randomization applied to the stack
	// base.
	maxStackRand = 16 << 30

	// maxMmapRand is the maximum randomization applied to the mmap base.
	maxMmapRand = (1 << 28) * memarch.PageSize

	// maxHeapRand is the maximum randomization applied to the heap base.
	maxHeapRand = (1 << 13) * memarch.PageSize

	// minStackGap is the minimum gap between the stack top and the mmap
	// region.
	minStackGap = (128 << 20) + maxStackRand

	// defaultHeapBase is the lowest heap base before randomization,
	// placed above the fixed executable load region.
	defaultHeapBase memarch.Addr = 0x2000_0000
)

// Layout fixes the randomized bases of a process's stack, heap and mmap
// regions. A child created by fork inherits its parent's Layout; exec picks
// a fresh one.
type Layout struct {
	// StackTop is the highest address of the main stack region.
	StackTop memarch.Addr

	// HeapBase is the lowest address of the heap region.
	HeapBase memarch.Addr

	// MmapBase is the top-down allocation base for anonymous mappings.
	MmapBase memarch.Addr
}

// NewLayout returns a Layout with randomized bases.
func NewLayout() Layout {
	stackTop := (MaxUserAddr - memarch.Addr(randomBelow(maxStackRand))).RoundDown()
	return Layout{
		StackTop: stackTop,
		HeapBase: (defaultHeapBase + memarch.Addr(randomBelow(maxHeapRand))).RoundDown(),
		MmapBase: (stackTop - minStackGap - memarch.Addr(randomBelow(maxMmapRand))).RoundDown(),
	}
}

// randomBelow returns a uniform random value in [0, max), page-granular
// randomness being provided by the caller's rounding.
func randomBelow(max uint64) uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("layout randomization: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:]) % max
}
