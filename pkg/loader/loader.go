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

// Package loader maps ELF64 executables into an address space and builds
// the initial user stack. Nothing is committed to the address space until
// the image has passed validation; a failure partway through unwinds every
// page the load had established.
package loader

import (
	"errors"
	"fmt"

	"ember.dev/ember/pkg/abi/elf"
	"ember.dev/ember/pkg/cleanup"
	"ember.dev/ember/pkg/log"
	"ember.dev/ember/pkg/memarch"
	"ember.dev/ember/pkg/mm"
	"ember.dev/ember/pkg/pagetables"
)

// ErrExecutableStack is returned when the binary requests an executable
// stack. Stacks are unconditionally non-executable.
var ErrExecutableStack = errors.New("executable stack is not allowed")

// pieLoadBase is the load bias applied to ET_DYN images, the standard
// position-independent executable base.
const pieLoadBase memarch.Addr = ((mm.MaxUserAddr / 3) * 2) &^ memarch.PageMask

// LoadedELF is the result of a successful load.
type LoadedELF struct {
	// Entry is the initial instruction pointer.
	Entry memarch.Addr

	// SP is the initial stack pointer, 16-byte aligned, pointing at
	// argc.
	SP memarch.Addr

	// PhdrAddr is the virtual address of the program header table, or 0
	// if no PT_LOAD segment covers it.
	PhdrAddr memarch.Addr

	// Phnum is the number of program headers.
	Phnum int
}

// Load validates image, maps its PT_LOAD segments into as, and builds the
// initial stack from argv and envp. On failure as is left exactly as it
// was.
//
// Errors are distinguishable: elf.ErrNotELF (not an ELF image at all),
// elf.ErrInvalidFormat (malformed image), mm.ErrWriteExec (a W^X-violating
// segment), ErrExecutableStack, and pgalloc.ErrOutOfMemory.
func Load(as *mm.AddressSpace, image []byte, argv, envp []string) (LoadedELF, error) {
	hdr, err := elf.ParseHeader(image)
	if err != nil {
		return LoadedELF{}, err
	}
	phdrs, err := elf.ParseProgHeaders(image, hdr)
	if err != nil {
		return LoadedELF{}, err
	}

	// Reject before mapping: a bad segment anywhere means nothing of the
	// image is loaded.
	for _, phdr := range phdrs {
		switch phdr.Type {
		case elf.PT_LOAD:
			if p := phdr.Perms(); p.Write && p.Execute {
				return LoadedELF{}, fmt.Errorf("%w: segment at %#x", mm.ErrWriteExec, phdr.Vaddr)
			}
		case elf.PT_GNU_STACK:
			if phdr.Flags&elf.PF_X != 0 {
				return LoadedELF{}, fmt.Errorf("%w: PT_GNU_STACK requests execute", ErrExecutableStack)
			}
		}
	}

	var bias memarch.Addr
	if hdr.Type == elf.ET_DYN {
		bias = pieLoadBase
	}

	cu := cleanup.Make(func() {})
	defer cu.Clean()

	var phdrAddr memarch.Addr
	for _, phdr := range phdrs {
		if phdr.Type != elf.PT_LOAD || phdr.Memsz == 0 {
			continue
		}
		if err := loadSegment(as, image, phdr, bias, &cu); err != nil {
			return LoadedELF{}, err
		}
		// The auxiliary vector wants the in-memory address of the
		// program header table; it is inside whichever segment maps
		// its file offset.
		if phdr.Off <= hdr.Phoff && hdr.Phoff < phdr.Off+phdr.Filesz {
			phdrAddr = bias + memarch.Addr(phdr.Vaddr+(hdr.Phoff-phdr.Off))
		}
	}

	entry := bias + memarch.Addr(hdr.Entry)
	sp, err := SetupStack(as, as.Layout().StackTop, argv, envp, stackExtras{
		entry:    entry,
		phdrAddr: phdrAddr,
		phnum:    int(hdr.Phnum),
	})
	if err != nil {
		return LoadedELF{}, err
	}

	cu.Release()
	log.Infof("loaded ELF: entry %#x, %d segments, sp %#x", uint64(entry), len(phdrs), uint64(sp))
	return LoadedELF{
		Entry:    entry,
		SP:       sp,
		PhdrAddr: phdrAddr,
		Phnum:    int(hdr.Phnum),
	}, nil
}

// loadSegment establishes one PT_LOAD segment: a VMA over the page-rounded
// range, a fresh frame per page, the file bytes copied in, and everything
// past filesz left zero (frames come from the allocator already zeroed, so
// BSS needs no explicit clear).
func loadSegment(as *mm.AddressSpace, image []byte, phdr elf.ProgHeader64, bias memarch.Addr, cu *cleanup.Cleanup) error {
	vaddr := bias + memarch.Addr(phdr.Vaddr)
	end, ok := vaddr.AddLength(phdr.Memsz)
	if !ok {
		return fmt.Errorf("%w: segment [%#x, +%#x) wraps", elf.ErrInvalidFormat, uint64(vaddr), phdr.Memsz)
	}
	pageEnd, ok := end.RoundUp()
	if !ok {
		return fmt.Errorf("%w: segment end %#x wraps when rounded", elf.ErrInvalidFormat, uint64(end))
	}
	ar := memarch.AddrRange{Start: vaddr.RoundDown(), End: pageEnd}

	perms := memarch.AccessType{
		Read:    phdr.Flags&elf.PF_R != 0,
		Write:   phdr.Flags&elf.PF_W != 0,
		Execute: phdr.Flags&elf.PF_X != 0,
	}
	if err := as.AddVMA(mm.VMA{Range: ar, Perms: perms}); err != nil {
		return err
	}
	// RemoveVMA also unmaps and releases every page established below.
	cu.Add(func() { as.RemoveVMA(ar) })

	opts := pagetables.MapOpts{AccessType: perms, User: true}
	for va := ar.Start; va < ar.End; va += memarch.PageSize {
		if _, err := as.AllocAndMap(va, opts); err != nil {
			// An already-mapped page means overlapping segments: a
			// malformed binary, not a resource failure.
			if errors.Is(err, pagetables.ErrAlreadyMapped) {
				err = fmt.Errorf("%w: segments overlap at %#x", elf.ErrInvalidFormat, uint64(va))
			}
			return err
		}
	}

	if phdr.Filesz > 0 {
		src := image[phdr.Off : phdr.Off+phdr.Filesz]
		if err := as.CopyOut(vaddr, src, mm.CopyOpts{IgnorePermissions: true}); err != nil {
			return err
		}
	}
	return nil
}
