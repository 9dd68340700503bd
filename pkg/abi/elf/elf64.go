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

// Package elf defines the on-disk ELF64 structures the loader consumes.
// Layouts are bit-exact and little-endian per the ELF64 specification.
package elf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidFormat indicates a malformed or unsupported ELF image. No part
// of an image that fails validation is ever loaded.
var ErrInvalidFormat = errors.New("invalid ELF format")

// ErrNotELF indicates the image does not carry the ELF magic at all. Callers
// use this to fall back to other executable formats (interpreter scripts).
var ErrNotELF = errors.New("not an ELF image")

// ELF constants.
const (
	// Magic is the 4-byte identification at the start of every ELF file.
	Magic = "\x7fELF"

	// ELFCLASS64 identifies a 64-bit image (e_ident[EI_CLASS]).
	ELFCLASS64 = 2

	// ELFDATA2LSB identifies little-endian encoding (e_ident[EI_DATA]).
	ELFDATA2LSB = 1

	// EV_CURRENT is the only defined ELF version.
	EV_CURRENT = 1

	headerSize     = 64
	progHeaderSize = 56
)

// e_type values.
const (
	ET_EXEC = 2
	ET_DYN  = 3
)

// Program header types.
const (
	PT_NULL      = 0
	PT_LOAD      = 1
	PT_DYNAMIC   = 2
	PT_INTERP    = 3
	PT_NOTE      = 4
	PT_PHDR      = 6
	PT_TLS       = 7
	PT_GNU_STACK = 0x6474e551
)

// Program header permission flags.
const (
	PF_X = 1
	PF_W = 2
	PF_R = 4
)

// Auxiliary vector entry types, written to the stack above envp.
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_BASE   = 7
	AT_FLAGS  = 8
	AT_ENTRY  = 9
	AT_UID    = 11
	AT_EUID   = 12
	AT_GID    = 13
	AT_EGID   = 14
	AT_SECURE = 23
	AT_RANDOM = 25
	AT_EXECFN = 31
)

// Auxv is one auxiliary vector entry, a (type, value) pair written to the
// initial stack.
type Auxv struct {
	Type  uint64
	Value uint64
}

// Header64 is the ELF64 file header.
type Header64 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// ProgHeader64 is an ELF64 program header. Field order matches the on-disk
// layout: the two 32-bit fields lead, then the 64-bit fields.
type ProgHeader64 struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Perms is the access a program header's flag bits request.
type Perms struct {
	Read    bool
	Write   bool
	Execute bool
}

// Perms decodes p.Flags.
func (p *ProgHeader64) Perms() Perms {
	return Perms{
		Read:    p.Flags&PF_R != 0,
		Write:   p.Flags&PF_W != 0,
		Execute: p.Flags&PF_X != 0,
	}
}

// ParseHeader decodes and validates the file header. The magic, class, data
// encoding and version are checked before anything else in the image is
// trusted.
func ParseHeader(b []byte) (Header64, error) {
	if len(b) < 4 || string(b[:4]) != Magic {
		return Header64{}, ErrNotELF
	}
	if len(b) < headerSize {
		return Header64{}, fmt.Errorf("%w: truncated header (%d bytes)", ErrInvalidFormat, len(b))
	}
	var h Header64
	copy(h.Ident[:], b[:16])
	if h.Ident[4] != ELFCLASS64 {
		return Header64{}, fmt.Errorf("%w: class %d is not ELFCLASS64", ErrInvalidFormat, h.Ident[4])
	}
	if h.Ident[5] != ELFDATA2LSB {
		return Header64{}, fmt.Errorf("%w: data encoding %d is not ELFDATA2LSB", ErrInvalidFormat, h.Ident[5])
	}
	if h.Ident[6] != EV_CURRENT {
		return Header64{}, fmt.Errorf("%w: version %d", ErrInvalidFormat, h.Ident[6])
	}

	le := binary.LittleEndian
	h.Type = le.Uint16(b[16:])
	h.Machine = le.Uint16(b[18:])
	h.Version = le.Uint32(b[20:])
	h.Entry = le.Uint64(b[24:])
	h.Phoff = le.Uint64(b[32:])
	h.Shoff = le.Uint64(b[40:])
	h.Flags = le.Uint32(b[48:])
	h.Ehsize = le.Uint16(b[52:])
	h.Phentsize = le.Uint16(b[54:])
	h.Phnum = le.Uint16(b[56:])
	h.Shentsize = le.Uint16(b[58:])
	h.Shnum = le.Uint16(b[60:])
	h.Shstrndx = le.Uint16(b[62:])

	if h.Type != ET_EXEC && h.Type != ET_DYN {
		return Header64{}, fmt.Errorf("%w: type %d is not executable", ErrInvalidFormat, h.Type)
	}
	if h.Phentsize != progHeaderSize {
		return Header64{}, fmt.Errorf("%w: program header entry size %d", ErrInvalidFormat, h.Phentsize)
	}
	return h, nil
}

// ParseProgHeaders decodes the program header table described by h,
// bounds-checking the table against the image.
func ParseProgHeaders(b []byte, h Header64) ([]ProgHeader64, error) {
	n := uint64(h.Phnum)
	end := h.Phoff + n*progHeaderSize
	if end < h.Phoff || end > uint64(len(b)) {
		return nil, fmt.Errorf("%w: program header table [%#x, %#x) outside image of %d bytes", ErrInvalidFormat, h.Phoff, end, len(b))
	}
	phdrs := make([]ProgHeader64, 0, n)
	le := binary.LittleEndian
	for i := uint64(0); i < n; i++ {
		p := b[h.Phoff+i*progHeaderSize:]
		phdr := ProgHeader64{
			Type:   le.Uint32(p[0:]),
			Flags:  le.Uint32(p[4:]),
			Off:    le.Uint64(p[8:]),
			Vaddr:  le.Uint64(p[16:]),
			Paddr:  le.Uint64(p[24:]),
			Filesz: le.Uint64(p[32:]),
			Memsz:  le.Uint64(p[40:]),
			Align:  le.Uint64(p[48:]),
		}
		if phdr.Type == PT_LOAD {
			if phdr.Memsz < phdr.Filesz {
				return nil, fmt.Errorf("%w: PT_LOAD memsz %#x < filesz %#x", ErrInvalidFormat, phdr.Memsz, phdr.Filesz)
			}
			if fileEnd := phdr.Off + phdr.Filesz; fileEnd < phdr.Off || fileEnd > uint64(len(b)) {
				return nil, fmt.Errorf("%w: PT_LOAD file range [%#x, %#x) outside image of %d bytes", ErrInvalidFormat, phdr.Off, fileEnd, len(b))
			}
		}
		phdrs = append(phdrs, phdr)
	}
	return phdrs, nil
}
