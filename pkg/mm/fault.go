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
	"ember.dev/ember/pkg/memarch"
)

// FaultCode is the hardware error code delivered with a page fault.
type FaultCode uint64

// Error code bits.
const (
	// FaultPresent is set when the fault was caused by a protection
	// violation on a present page, clear when the page was not present.
	FaultPresent FaultCode = 1 << 0

	// FaultWrite is set when the faulting access was a write.
	FaultWrite FaultCode = 1 << 1
)

// Present returns true if the faulting page was present.
func (c FaultCode) Present() bool {
	return c&FaultPresent != 0
}

// Write returns true if the faulting access was a write.
func (c FaultCode) Write() bool {
	return c&FaultWrite != 0
}

// FaultResult is the tri-state outcome of a fault handler.
type FaultResult int

const (
	// FaultNotMine means the handler does not recognize the fault; the
	// next handler in the chain should run.
	FaultNotMine FaultResult = iota

	// FaultHandled means the fault is resolved and the faulting
	// instruction may retry.
	FaultHandled

	// FaultFatal means the fault was recognized but cannot be resolved;
	// the faulting process must be terminated.
	FaultFatal
)

func (r FaultResult) String() string {
	switch r {
	case FaultNotMine:
		return "not-mine"
	case FaultHandled:
		return "handled"
	case FaultFatal:
		return "fatal"
	default:
		return "invalid"
	}
}

// HandleFault resolves a write fault on a copy-on-write page. It is called
// by the trap dispatcher with the faulting address and error code, ahead of
// generic fault handling.
//
// A fault on a COW frame with a sole owner is resolved by flipping the PTE
// writable in place; a shared frame is copied first. In both cases the
// translation for va is invalidated before returning, so the retried
// instruction sees the rewritten PTE.
func (as *AddressSpace) HandleFault(va memarch.Addr, code FaultCode) FaultResult {
	if !code.Write() || !code.Present() {
		// Not a write protection fault. Demand paging and true
		// segfaults belong to the generic path.
		return FaultNotMine
	}
	va = va.RoundDown()

	as.mu.Lock()
	flags, pa, ok := as.pt.Lookup(va)
	if !ok || !flags.CopyOnWrite() {
		as.mu.Unlock()
		return FaultNotMine
	}

	if as.refs.Count(pa) == 1 {
		// Sole owner: reclaim the frame in place. No allocation, no
		// copy.
		as.pt.Update(va, flags.ClearCopyOnWrite().SetWritable(true))
		as.pt.Invalidate(va)
		as.mu.Unlock()
		return FaultHandled
	}
	// The frame is shared. Pin it with an extra reference so it stays
	// alive across the copy, then drop the lock: every sharer sees the
	// frame read-only, so the copy source is stable, and a page copy is
	// too long to hold the lock for.
	as.refs.Acquire(pa)
	as.mu.Unlock()

	newPA, err := as.pool.Alloc()
	if err != nil {
		if as.refs.Release(pa) {
			as.pool.Free(pa)
		}
		as.faultLog.Warningf("copy-on-write fault at %#x: %v", uint64(va), err)
		return FaultFatal
	}
	copy(as.pool.FrameBytes(newPA), as.pool.FrameBytes(pa))

	as.mu.Lock()
	// Revalidate: another thread sharing this address space may have
	// resolved the fault while the lock was dropped.
	flags2, pa2, ok := as.pt.Lookup(va)
	if !ok || !flags2.CopyOnWrite() || pa2 != pa {
		as.mu.Unlock()
		as.pool.Free(newPA)
		if as.refs.Release(pa) {
			as.pool.Free(pa)
		}
		return FaultHandled
	}
	as.pt.Remap(va, newPA, flags2.ClearCopyOnWrite().SetWritable(true))
	as.pt.Invalidate(va)
	as.refs.Acquire(newPA)
	// Drop the mapping's reference and the pin. The sibling mapping that
	// made the frame shared normally still holds it, but it may have been
	// torn down concurrently, in which case the last release frees.
	freeMapping := as.refs.Release(pa)
	freePin := as.refs.Release(pa)
	as.mu.Unlock()
	if freeMapping || freePin {
		as.pool.Free(pa)
	}
	return FaultHandled
}
