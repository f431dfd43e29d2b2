// Copyright 2025 The gVisor Authors.
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

package pte

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pagetables"
)

// allAttrs returns every combination of frame attributes.
func allAttrs() []frame.Attr {
	var attrs []frame.Attr
	for bits := 0; bits < 32; bits++ {
		attrs = append(attrs, frame.Attr{
			Readable:       bits&1 != 0,
			Writable:       bits&2 != 0,
			Executable:     bits&4 != 0,
			UserAccessible: bits&8 != 0,
			Device:         bits&16 != 0,
		})
	}
	return attrs
}

func TestRoundTrip(t *testing.T) {
	addrs := []hostarch.PhysAddr{0, 0x1000, 0x9000_0000, 0x40_0000_0000, 0x0000_ffff_ffff_f000}
	for _, name := range Names() {
		c, _ := Lookup(name)
		t.Run(name, func(t *testing.T) {
			for _, last := range []bool{false, true} {
				for _, addr := range addrs {
					if !last {
						want := pagetables.TableEntry(addr)
						if diff := cmp.Diff(want, c.Decode(c.Encode(want, last), last)); diff != "" {
							t.Errorf("table %v round trip mismatch (-want +got):\n%s", addr, diff)
						}
					}
					for _, attr := range allAttrs() {
						want := pagetables.Entry{Valid: true, Leaf: true, Addr: addr, Attr: attr}
						raw := c.Encode(want, last)
						if diff := cmp.Diff(want, c.Decode(raw, last)); diff != "" {
							t.Errorf("leaf %v %v last=%v (raw %#x) round trip mismatch (-want +got):\n%s", addr, attr, last, raw, diff)
						}
					}
				}
			}
		})
	}
}

func TestEmpty(t *testing.T) {
	for _, name := range Names() {
		c, _ := Lookup(name)
		for _, last := range []bool{false, true} {
			if e := c.Decode(c.Empty(), last); e.Valid {
				t.Errorf("%s: Decode(Empty(), %v) is valid: %+v", name, last, e)
			}
			if raw := c.Encode(pagetables.Entry{}, last); raw != c.Empty() {
				t.Errorf("%s: Encode(invalid) = %#x, wanted %#x", name, raw, c.Empty())
			}
		}
	}
}

func TestKnownEncodings(t *testing.T) {
	f := frame.Frame{
		Base: 0x9000_0000,
		Size: frame.Size4K,
		Attr: frame.Attr{Readable: true, Writable: true, UserAccessible: true},
	}
	for _, tc := range []struct {
		codec pagetables.EntryCodec
		want  uint64
	}{
		{X86{}, 0x8000_0000_9000_0067},
		{AArch64{}, 0x0060_0000_9000_0f43},
	} {
		if got := tc.codec.Encode(pagetables.LeafEntry(f), true); got != tc.want {
			t.Errorf("%s: Encode(%v) = %#x, wanted %#x", tc.codec.Name(), f, got, tc.want)
		}
	}
}

func TestLeafAboveLastLevel(t *testing.T) {
	// Block and super page descriptors are leaves above the last level.
	e := pagetables.LeafEntry(frame.Frame{Base: 0x20_0000, Size: frame.Size2M})
	if got := (X86{}).Encode(e, false); got&x86Super == 0 {
		t.Errorf("x86 super page encoding %#x lacks PS", got)
	}
	if got := (AArch64{}).Encode(e, false); got&armTable != 0 {
		t.Errorf("aarch64 block encoding %#x has the table bit", got)
	}
	// A block encoding at the last level is reserved.
	if got := (AArch64{}).Decode(0x1001, true); got.Valid {
		t.Errorf("aarch64 reserved encoding decoded as valid: %+v", got)
	}
}

func TestTableAtLastLevelPanics(t *testing.T) {
	for _, name := range Names() {
		c, _ := Lookup(name)
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: encoding a table at the last level did not panic", name)
				}
			}()
			c.Encode(pagetables.TableEntry(0x1000), true)
		}()
	}
}

func TestNames(t *testing.T) {
	if diff := cmp.Diff([]string{"aarch64", "x86"}, Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range Names() {
		c, ok := Lookup(name)
		if !ok || c.Name() != name {
			t.Errorf("Lookup(%q) = %v, %t", name, c, ok)
		}
	}
}
