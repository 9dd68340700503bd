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
	"ember.dev/ember/pkg/cleanup"
	"ember.dev/ember/pkg/log"
	"ember.dev/ember/pkg/memarch"
)

// CloneFlags selects which resources a clone shares with its parent. The
// values follow the Linux clone(2) bitfield. Only the memory-related flags
// are interpreted here; file table, filesystem root and signal handler
// sharing are the process layer's concern.
type CloneFlags uint64

// Clone flags.
const (
	// CloneVM shares the address space outright instead of duplicating
	// it. vfork and thread creation both set it.
	CloneVM CloneFlags = 0x100

	// CloneFS, CloneFiles and CloneSighand are consumed by external
	// collaborators; Duplicate ignores them.
	CloneFS      CloneFlags = 0x200
	CloneFiles   CloneFlags = 0x400
	CloneSighand CloneFlags = 0x800

	// CloneVfork suspends the parent until the child execs or exits. The
	// scheduler implements the suspension; for memory it implies
	// CloneVM.
	CloneVfork CloneFlags = 0x4000
)

// Duplicate creates the child address space for a fork-family call.
//
// With CloneVM the parent's address space is shared verbatim: the user count
// is bumped and the same *AddressSpace is returned. Otherwise every mapped
// page of a private writable area is downgraded to copy-on-write in the
// parent and mapped identically in the child, so both sides share frames
// until one of them writes.
//
// On failure the half-built child is fully unwound and the parent is left
// intact, except that pages already downgraded to copy-on-write stay
// downgraded; they recover lazily through write faults.
func (as *AddressSpace) Duplicate(flags CloneFlags) (*AddressSpace, error) {
	if flags&(CloneVM|CloneVfork) != 0 {
		as.IncUsers()
		return as, nil
	}

	child := &AddressSpace{
		pt:        as.newMapper(),
		layout:    as.layout,
		pool:      as.pool,
		refs:      as.refs,
		newMapper: as.newMapper,
		faultLog:  log.RateLimitedLogger(log.Log(), faultLogInterval),
	}
	child.users.Store(1)

	as.mu.Lock()
	defer as.mu.Unlock()

	cu := cleanup.Make(func() {})
	defer cu.Clean()

	child.vmas.vmas = append([]VMA(nil), as.vmas.vmas...)

	for _, vma := range as.vmas.vmas {
		cow := vma.Perms.Write && !vma.Shared
		for va := vma.Range.Start; va < vma.Range.End; va += memarch.PageSize {
			ptFlags, pa, ok := as.pt.Lookup(va)
			if !ok {
				continue
			}
			childFlags := ptFlags
			if cow {
				// The parent's own mapping is downgraded too:
				// both sides now share the frame, so neither
				// may write through it unchecked.
				childFlags = ptFlags.MarkCopyOnWrite()
				if childFlags != ptFlags {
					as.pt.Update(va, childFlags)
					as.pt.Invalidate(va)
				}
			}
			if err := child.pt.Map(va, pa, childFlags); err != nil {
				return nil, err
			}
			as.refs.Acquire(pa)
			cu.Add(func() {
				child.pt.Unmap(va)
				if as.refs.Release(pa) {
					as.pool.Free(pa)
				}
			})
		}
	}

	cu.Release()
	return child, nil
}
