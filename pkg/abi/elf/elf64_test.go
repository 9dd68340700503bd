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

package elf

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// buildHeader serializes a valid 64-bit little-endian file header with the
// given overrides applied to the raw bytes.
func buildHeader(phoff uint64, phnum uint16, mutate func(b []byte)) []byte {
	b := make([]byte, headerSize)
	copy(b, Magic)
	b[4] = ELFCLASS64
	b[5] = ELFDATA2LSB
	b[6] = EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(b[16:], ET_EXEC)
	le.PutUint16(b[18:], 0x3e) // EM_X86_64
	le.PutUint32(b[20:], EV_CURRENT)
	le.PutUint64(b[24:], 0x401000)
	le.PutUint64(b[32:], phoff)
	le.PutUint16(b[52:], headerSize)
	le.PutUint16(b[54:], progHeaderSize)
	le.PutUint16(b[56:], phnum)
	if mutate != nil {
		mutate(b)
	}
	return b
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(buildHeader(headerSize, 0, nil))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Entry != 0x401000 || h.Type != ET_EXEC || h.Phnum != 0 {
		t.Errorf("unexpected header: %+v", h)
	}
}

func TestParseHeaderRejections(t *testing.T) {
	for _, test := range []struct {
		name    string
		image   []byte
		wantErr error
	}{
		{"empty", nil, ErrNotELF},
		{"bad-magic", []byte("\x7fELG....."), ErrNotELF},
		{"truncated", []byte(Magic), ErrInvalidFormat},
		{"wrong-class", buildHeader(headerSize, 0, func(b []byte) { b[4] = 1 }), ErrInvalidFormat},
		{"big-endian", buildHeader(headerSize, 0, func(b []byte) { b[5] = 2 }), ErrInvalidFormat},
		{"bad-version", buildHeader(headerSize, 0, func(b []byte) { b[6] = 9 }), ErrInvalidFormat},
		{"relocatable", buildHeader(headerSize, 0, func(b []byte) {
			binary.LittleEndian.PutUint16(b[16:], 1) // ET_REL
		}), ErrInvalidFormat},
		{"bad-phentsize", buildHeader(headerSize, 0, func(b []byte) {
			binary.LittleEndian.PutUint16(b[54:], 32)
		}), ErrInvalidFormat},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseHeader(test.image); !errors.Is(err, test.wantErr) {
				t.Errorf("ParseHeader = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestParseProgHeaders(t *testing.T) {
	image := buildHeader(headerSize, 1, nil)
	phdr := make([]byte, progHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(phdr[0:], PT_LOAD)
	le.PutUint32(phdr[4:], PF_R|PF_X)
	le.PutUint64(phdr[8:], 0)
	le.PutUint64(phdr[16:], 0x401000)
	le.PutUint64(phdr[32:], 0x100)
	le.PutUint64(phdr[40:], 0x100)
	le.PutUint64(phdr[48:], 0x1000)
	image = append(image, phdr...)
	image = append(image, make([]byte, 0x100)...)

	h, err := ParseHeader(image)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	phdrs, err := ParseProgHeaders(image, h)
	if err != nil {
		t.Fatalf("ParseProgHeaders: %v", err)
	}
	want := []ProgHeader64{{
		Type:   PT_LOAD,
		Flags:  PF_R | PF_X,
		Vaddr:  0x401000,
		Filesz: 0x100,
		Memsz:  0x100,
		Align:  0x1000,
	}}
	if diff := cmp.Diff(want, phdrs); diff != "" {
		t.Errorf("program headers mismatch (-want +got):\n%s", diff)
	}
	if got := phdrs[0].Perms(); !got.Read || got.Write || !got.Execute {
		t.Errorf("Perms() = %+v, want r-x", got)
	}
}

func TestParseProgHeadersRejections(t *testing.T) {
	t.Run("table-outside-image", func(t *testing.T) {
		image := buildHeader(1<<20, 1, nil)
		h, err := ParseHeader(image)
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		if _, err := ParseProgHeaders(image, h); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseProgHeaders = %v, want ErrInvalidFormat", err)
		}
	})
	t.Run("memsz-below-filesz", func(t *testing.T) {
		image := buildHeader(headerSize, 1, nil)
		phdr := make([]byte, progHeaderSize)
		le := binary.LittleEndian
		le.PutUint32(phdr[0:], PT_LOAD)
		le.PutUint64(phdr[32:], 0x200) // filesz
		le.PutUint64(phdr[40:], 0x100) // memsz
		image = append(image, phdr...)
		h, err := ParseHeader(image)
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		if _, err := ParseProgHeaders(image, h); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseProgHeaders = %v, want ErrInvalidFormat", err)
		}
	})
}
