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

package memarch

import (
	"math"
	"testing"
)

func TestRounding(t *testing.T) {
	for _, test := range []struct {
		name     string
		addr     Addr
		wantDown Addr
		wantUp   Addr
		upOK     bool
	}{
		{"aligned", 0x1000, 0x1000, 0x1000, true},
		{"unaligned", 0x1001, 0x1000, 0x2000, true},
		{"zero", 0, 0, 0, true},
		{"almost-wrap", math.MaxUint64 - 1, 0xfffffffffffff000, 0, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := test.addr.RoundDown(); got != test.wantDown {
				t.Errorf("RoundDown(%#x) = %#x, want %#x", test.addr, got, test.wantDown)
			}
			got, ok := test.addr.RoundUp()
			if ok != test.upOK || (ok && got != test.wantUp) {
				t.Errorf("RoundUp(%#x) = (%#x, %t), want (%#x, %t)", test.addr, got, ok, test.wantUp, test.upOK)
			}
		})
	}
}

func TestAddLengthOverflow(t *testing.T) {
	if _, ok := Addr(math.MaxUint64).AddLength(2); ok {
		t.Errorf("AddLength wrapped but reported ok")
	}
	if end, ok := Addr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength(0x1000, 0x2000) = (%#x, %t), want (0x3000, true)", end, ok)
	}
}

func TestAddrRange(t *testing.T) {
	ar := AddrRange{0x1000, 0x3000}
	if ar.Length() != 0x2000 {
		t.Errorf("Length() = %#x, want 0x2000", ar.Length())
	}
	if !ar.Contains(0x1000) || ar.Contains(0x3000) {
		t.Errorf("Contains is wrong at the boundaries of %v", ar)
	}
	if !ar.Overlaps(AddrRange{0x2000, 0x4000}) {
		t.Errorf("Overlaps missed an overlapping range")
	}
	if ar.Overlaps(AddrRange{0x3000, 0x4000}) {
		t.Errorf("Overlaps claimed an adjacent range overlaps")
	}
}

func TestFrameIndex(t *testing.T) {
	base := PhysAddr(0x100000)
	if got := PhysAddr(0x103000).FrameIndex(base); got != 3 {
		t.Errorf("FrameIndex = %d, want 3", got)
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadExecute.String(); got != "r-x" {
		t.Errorf("ReadExecute.String() = %q, want r-x", got)
	}
	if !AnyAccess.SupersetOf(ReadWrite) {
		t.Errorf("AnyAccess is not a superset of ReadWrite")
	}
	if Read.SupersetOf(ReadWrite) {
		t.Errorf("Read claims to be a superset of ReadWrite")
	}
	if wx := (AccessType{Write: true, Execute: true}); !wx.WriteExecute() {
		t.Errorf("wx access not flagged as write+execute")
	}
	if ReadWrite.WriteExecute() {
		t.Errorf("rw- access flagged as write+execute")
	}
}
