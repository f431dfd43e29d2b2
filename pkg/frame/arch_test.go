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

package frame

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pagetree/pkg/hostarch"
)

func TestPredefinedValid(t *testing.T) {
	for _, name := range Names() {
		a, _ := Lookup(name)
		if err := a.Validate(); err != nil {
			t.Errorf("Validate(%s): %v", name, err)
		}
	}
	if got, want := VMSAv8With4K.Span(), uint64(1)<<48; got != want {
		t.Errorf("Span: got %#x, wanted %#x", got, want)
	}
	if got, want := VMSAv8With16K.Span(), uint64(1)<<47; got != want {
		t.Errorf("Span: got %#x, wanted %#x", got, want)
	}
}

func TestValidateRejects(t *testing.T) {
	for _, a := range []*Arch{
		{Name: "empty"},
		{Name: "zero entries", Levels: []Level{{Entries: 0, FrameSize: Size4K}}},
		{Name: "odd size", Levels: []Level{{Entries: 4, FrameSize: 3000}}},
		{Name: "mismatch", Levels: []Level{{Entries: 4, FrameSize: Size1G}, {Entries: 512, FrameSize: Size4K}}},
	} {
		if err := a.Validate(); err == nil {
			t.Errorf("Validate(%s) succeeded, wanted error", a.Name)
		}
	}
}

func TestLevelOfFrameSize(t *testing.T) {
	for _, tc := range []struct {
		size  Size
		level int
		ok    bool
	}{
		{Size512G, 0, true},
		{Size1G, 1, true},
		{Size2M, 2, true},
		{Size4K, 3, true},
		{Size16K, 0, false},
	} {
		level, ok := VMSAv8With4K.LevelOfFrameSize(tc.size)
		if ok != tc.ok || (ok && level != tc.level) {
			t.Errorf("LevelOfFrameSize(%v): got (%d, %v), wanted (%d, %v)", tc.size, level, ok, tc.level, tc.ok)
		}
	}
}

func TestIndexOf(t *testing.T) {
	// 0x0000_7f80_4020_3000: indices 255, 1, 1, 3 on a 4K granule.
	vaddr := hostarch.Addr(255<<39 | 1<<30 | 1<<21 | 3<<12)
	var got []int
	for level := 0; level < VMSAv8With4K.LevelCount(); level++ {
		got = append(got, VMSAv8With4K.IndexOf(vaddr, level))
	}
	if diff := cmp.Diff([]int{255, 1, 1, 3}, got); diff != "" {
		t.Errorf("IndexOf mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckMapping(t *testing.T) {
	bounds := Bounds{Lower: 0, Upper: 0x1_0000_0000}
	rw := Attr{Readable: true, Writable: true}
	for _, tc := range []struct {
		name  string
		vbase hostarch.Addr
		f     Frame
		ok    bool
	}{
		{"ok", 0x1000, Frame{Base: 0x9000_0000, Size: Size4K, Attr: rw}, true},
		{"unsupported", 0x4000, Frame{Base: 0x4000, Size: Size16K, Attr: rw}, false},
		{"unaligned virtual", 0x1800, Frame{Base: 0x1000, Size: Size4K, Attr: rw}, false},
		{"unaligned physical", 0x200000, Frame{Base: 0x1000, Size: Size2M, Attr: rw}, false},
		{"out of bounds", 0x1000, Frame{Base: 0x1_0000_0000, Size: Size4K, Attr: rw}, false},
		{"out of span", hostarch.Addr(1) << 48, Frame{Base: 0x1000, Size: Size4K, Attr: rw}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := VMSAv8With4K.CheckMapping(tc.vbase, tc.f, bounds)
			if (err == nil) != tc.ok {
				t.Errorf("CheckMapping(%v, %v): got %v, wanted ok=%v", tc.vbase, tc.f, err, tc.ok)
			}
		})
	}
}

func TestAttrString(t *testing.T) {
	if got, want := (Attr{Readable: true, UserAccessible: true}).String(), "r--u-"; got != want {
		t.Errorf("String: got %q, wanted %q", got, want)
	}
	if got := (Attr{Device: true}).MemoryType(); got != hostarch.MemoryTypeDevice {
		t.Errorf("MemoryType: got %v, wanted %v", got, hostarch.MemoryTypeDevice)
	}
}

func TestCheckOverlap(t *testing.T) {
	f := func(base hostarch.PhysAddr, size Size) Frame { return Frame{Base: base, Size: size} }
	for _, tc := range []struct {
		name string
		ms   []Mapping
		ok   bool
	}{
		{"disjoint", []Mapping{{0x1000, f(0x3000, Size4K)}, {0x2000, f(0x1000, Size4K)}}, true},
		{"virtual", []Mapping{{0x0, f(0x400000, Size2M)}, {0x1000, f(0x1000, Size4K)}}, false},
		{"physical", []Mapping{{0x1000, f(0x200000, Size2M)}, {0x400000, f(0x201000, Size4K)}}, false},
	} {
		if err := CheckOverlap(tc.ms); (err == nil) != tc.ok {
			t.Errorf("%s: CheckOverlap = %v, wanted ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestParse(t *testing.T) {
	for _, s := range []Size{Size4K, Size16K, Size2M, Size32M, Size1G, Size64G, Size512G} {
		got, err := ParseSize(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSize(%q) = %v, %v; wanted %v", s.String(), got, err, s)
		}
	}
	if _, err := ParseSize("3K"); err == nil {
		t.Errorf("ParseSize(3K) succeeded")
	}

	for _, tc := range []struct {
		in   string
		want Attr
		ok   bool
	}{
		{"rw-u-", Attr{Readable: true, Writable: true, UserAccessible: true}, true},
		{"rwu", Attr{Readable: true, Writable: true, UserAccessible: true}, true},
		{"-----", Attr{}, true},
		{"xd", Attr{Executable: true, Device: true}, true},
		{"wr", Attr{}, false},
		{"rz", Attr{}, false},
	} {
		got, err := ParseAttr(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseAttr(%q) error = %v, wanted ok=%v", tc.in, err, tc.ok)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseAttr(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}
