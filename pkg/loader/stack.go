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

package loader

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"ember.dev/ember/pkg/abi/elf"
	"ember.dev/ember/pkg/cleanup"
	"ember.dev/ember/pkg/memarch"
	"ember.dev/ember/pkg/mm"
	"ember.dev/ember/pkg/pagetables"
)

// ErrTooLong is returned when argv and envp do not fit in the initial
// stack.
var ErrTooLong = errors.New("argument and environment lists exceed the initial stack")

// initialStackPages is the size of the stack region established at exec.
const initialStackPages = 16

// stackExtras carries the load-derived auxiliary vector values.
type stackExtras struct {
	entry    memarch.Addr
	phdrAddr memarch.Addr
	phnum    int
}

// auxv returns the vector, without the terminator and AT_RANDOM, which
// SetupStack supplies.
func (e stackExtras) auxv() []elf.Auxv {
	v := []elf.Auxv{
		{Type: elf.AT_PAGESZ, Value: memarch.PageSize},
		{Type: elf.AT_ENTRY, Value: uint64(e.entry)},
		{Type: elf.AT_SECURE, Value: 0},
	}
	if e.phdrAddr != 0 {
		v = append(v,
			elf.Auxv{Type: elf.AT_PHDR, Value: uint64(e.phdrAddr)},
			elf.Auxv{Type: elf.AT_PHENT, Value: 56},
			elf.Auxv{Type: elf.AT_PHNUM, Value: uint64(e.phnum)},
		)
	}
	return v
}

// SetupStack maps a stack region ending at stackTop and writes the initial
// process stack the C runtime expects: envp and argv string bytes at the
// top, then 16 bytes of AT_RANDOM entropy, then, at the returned 16-byte
// aligned stack pointer and growing upward, argc, the argv pointer array
// with its NULL terminator, the envp pointer array with its NULL
// terminator, and the auxiliary vector ending in AT_NULL.
//
// Stack pages are writable and never executable.
func SetupStack(as *mm.AddressSpace, stackTop memarch.Addr, argv, envp []string, extras stackExtras) (memarch.Addr, error) {
	if !stackTop.PageAligned() {
		return 0, fmt.Errorf("stack top %#x is not page-aligned", uint64(stackTop))
	}
	ar := memarch.AddrRange{
		Start: stackTop - initialStackPages*memarch.PageSize,
		End:   stackTop,
	}
	if err := as.AddVMA(mm.VMA{Range: ar, Perms: memarch.ReadWrite, Kind: mm.KindStack}); err != nil {
		return 0, err
	}
	cu := cleanup.Make(func() { as.RemoveVMA(ar) })
	defer cu.Clean()

	opts := pagetables.MapOpts{AccessType: memarch.ReadWrite, User: true}
	for va := ar.Start; va < ar.End; va += memarch.PageSize {
		if _, err := as.AllocAndMap(va, opts); err != nil {
			return 0, err
		}
	}

	// Everything is sized up front so an oversized argument list fails
	// before any byte is written.
	strTotal := 0
	for _, s := range append(append([]string(nil), argv...), envp...) {
		strTotal += len(s) + 1
	}
	words := 1 + len(argv) + 1 + len(envp) + 1 + 2*(len(extras.auxv())+2)
	needed := uint64(strTotal + 16 + words*memarch.PointerSize + memarch.StackAlignment)
	if needed > ar.Length() {
		return 0, fmt.Errorf("%w: need %d bytes", ErrTooLong, needed)
	}

	// String blocks, top down: envp then argv. Pointers are recorded in
	// declaration order.
	cursor := stackTop
	envPtrs, cursor, err := pushStrings(as, cursor, envp)
	if err != nil {
		return 0, err
	}
	argvPtrs, cursor, err := pushStrings(as, cursor, argv)
	if err != nil {
		return 0, err
	}

	// AT_RANDOM entropy.
	var entropy [16]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return 0, err
	}
	cursor -= memarch.Addr(len(entropy))
	if err := as.CopyOut(cursor, entropy[:], mm.CopyOpts{}); err != nil {
		return 0, err
	}
	randomAddr := cursor

	auxv := append(extras.auxv(),
		elf.Auxv{Type: elf.AT_RANDOM, Value: uint64(randomAddr)},
		elf.Auxv{Type: elf.AT_NULL, Value: 0},
	)

	// One word for argc, the two NULL-terminated pointer arrays, and two
	// words per auxv entry. The final stack pointer must land 16-byte
	// aligned, so any padding sits between the strings and the pointer
	// block.
	blockLen := (1 + len(argvPtrs) + 1 + len(envPtrs) + 1 + 2*len(auxv)) * memarch.PointerSize
	sp := (cursor - memarch.Addr(blockLen)) &^ (memarch.StackAlignment - 1)
	if sp < ar.Start {
		return 0, fmt.Errorf("%w: need %d bytes", ErrTooLong, uint64(stackTop-sp))
	}

	block := make([]byte, blockLen)
	le := binary.LittleEndian
	off := 0
	put := func(v uint64) {
		le.PutUint64(block[off:], v)
		off += memarch.PointerSize
	}
	put(uint64(len(argv)))
	for _, p := range argvPtrs {
		put(uint64(p))
	}
	put(0)
	for _, p := range envPtrs {
		put(uint64(p))
	}
	put(0)
	for _, a := range auxv {
		put(a.Type)
		put(a.Value)
	}
	if err := as.CopyOut(sp, block, mm.CopyOpts{}); err != nil {
		return 0, err
	}

	cu.Release()
	return sp, nil
}

// pushStrings writes the NUL-terminated strings in order just below top and
// returns the address of each, with the new cursor.
func pushStrings(as *mm.AddressSpace, top memarch.Addr, strs []string) ([]memarch.Addr, memarch.Addr, error) {
	total := 0
	for _, s := range strs {
		total += len(s) + 1
	}
	base := top - memarch.Addr(total)
	ptrs := make([]memarch.Addr, 0, len(strs))
	cursor := base
	for _, s := range strs {
		b := append([]byte(s), 0)
		if err := as.CopyOut(cursor, b, mm.CopyOpts{}); err != nil {
			return nil, 0, err
		}
		ptrs = append(ptrs, cursor)
		cursor += memarch.Addr(len(b))
	}
	return ptrs, base, nil
}
