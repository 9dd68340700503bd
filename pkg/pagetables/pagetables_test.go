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

package pagetables

import (
	"errors"
	"testing"

	"ember.dev/ember/pkg/memarch"
)

func TestCopyOnWriteEncoding(t *testing.T) {
	f := NewPTEFlags(MapOpts{AccessType: memarch.ReadWrite, User: true})
	if !f.Present() || !f.Writable() || !f.User() || f.Executable() {
		t.Fatalf("unexpected flags for rw- user mapping: %#x", uint64(f))
	}

	cow := f.MarkCopyOnWrite()
	if !cow.CopyOnWrite() {
		t.Errorf("MarkCopyOnWrite did not set the COW bit")
	}
	if cow.Writable() {
		t.Errorf("COW mapping is writable; the COW bit requires writable = false")
	}
	if !cow.Present() || !cow.User() {
		t.Errorf("MarkCopyOnWrite clobbered unrelated bits: %#x", uint64(cow))
	}

	cleared := cow.ClearCopyOnWrite()
	if cleared.CopyOnWrite() {
		t.Errorf("ClearCopyOnWrite left the COW bit set")
	}
	if cleared.Writable() {
		t.Errorf("ClearCopyOnWrite changed writability; that decision belongs to the caller")
	}
}

func TestExecutableEncoding(t *testing.T) {
	f := NewPTEFlags(MapOpts{AccessType: memarch.ReadExecute, User: true})
	if !f.Executable() {
		t.Errorf("r-x mapping is not executable")
	}
	if f.Writable() {
		t.Errorf("r-x mapping is writable")
	}
	got := f.Opts().AccessType
	if got != memarch.ReadExecute {
		t.Errorf("Opts().AccessType = %v, want %v", got, memarch.ReadExecute)
	}
}

func TestMapUnmap(t *testing.T) {
	pt := New()
	flags := NewPTEFlags(MapOpts{AccessType: memarch.ReadWrite, User: true})

	if err := pt.Map(0x400000, 0x1000, flags); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := pt.Map(0x400000, 0x2000, flags); !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("remapping a mapped page: got %v, want ErrAlreadyMapped", err)
	}

	got, pa, ok := pt.Lookup(0x400123)
	if !ok || pa != 0x1000 || got != flags {
		t.Fatalf("Lookup(0x400123) = (%#x, %#x, %t), want (%#x, 0x1000, true)", uint64(got), uint64(pa), ok, uint64(flags))
	}

	if !pt.Unmap(0x400000) {
		t.Fatalf("Unmap of a mapped page returned false")
	}
	if _, _, ok := pt.Lookup(0x400000); ok {
		t.Fatalf("Lookup succeeded after Unmap")
	}
}

func TestUpdateKeepsFrame(t *testing.T) {
	pt := New()
	flags := NewPTEFlags(MapOpts{AccessType: memarch.ReadWrite, User: true})
	if err := pt.Map(0x400000, 0x5000, flags); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := pt.Update(0x400000, flags.MarkCopyOnWrite()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, pa, _ := pt.Lookup(0x400000)
	if pa != 0x5000 {
		t.Errorf("Update moved the frame: pa = %#x, want 0x5000", uint64(pa))
	}
	if !got.CopyOnWrite() || got.Writable() {
		t.Errorf("Update did not apply the new flags: %#x", uint64(got))
	}
	if err := pt.Update(0x800000, flags); !errors.Is(err, ErrNotMapped) {
		t.Errorf("Update of an unmapped page: got %v, want ErrNotMapped", err)
	}
}

func TestRangeOrdered(t *testing.T) {
	pt := New()
	flags := NewPTEFlags(MapOpts{AccessType: memarch.Read, User: true})
	for _, va := range []memarch.Addr{0x403000, 0x401000, 0x402000} {
		if err := pt.Map(va, memarch.PhysAddr(va), flags); err != nil {
			t.Fatalf("Map(%#x): %v", uint64(va), err)
		}
	}
	var got []memarch.Addr
	pt.Range(func(va memarch.Addr, _ PTEFlags, _ memarch.PhysAddr) bool {
		got = append(got, va)
		return true
	})
	want := []memarch.Addr{0x401000, 0x402000, 0x403000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Range order = %v, want %v", got, want)
		}
	}
}
