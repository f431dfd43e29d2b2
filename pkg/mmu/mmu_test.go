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

package mmu

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/ptmem"
)

const memBytes = 1 << 32

var rwUser = frame.Attr{Readable: true, Writable: true, UserAccessible: true}

func newState(t *testing.T, tables, tlb int) *State {
	t.Helper()
	s, _, err := NewFromOptions(Options{
		Arch:        "vmsav8-4k",
		Codec:       "aarch64",
		MemoryBytes: memBytes,
		Backing:     ptmem.KindSparse,
		Tables:      tables,
		TLBCapacity: tlb,
	})
	if err != nil {
		t.Fatalf("NewFromOptions: %v", err)
	}
	return s
}

func checkInvariants(t *testing.T, s *State) {
	t.Helper()
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestNewFromOptionsErrors(t *testing.T) {
	good := Options{Arch: "x86-64", Codec: "x86", MemoryBytes: 1 << 20, Backing: ptmem.KindHeap, Tables: 4, TLBCapacity: 4}
	s, _, err := NewFromOptions(good)
	if err != nil {
		t.Fatalf("NewFromOptions(%+v): %v", good, err)
	}
	s.Close()
	for _, tc := range []struct {
		name   string
		modify func(*Options)
	}{
		{name: "arch", modify: func(o *Options) { o.Arch = "pdp-11" }},
		{name: "codec", modify: func(o *Options) { o.Codec = "sparc" }},
		{name: "memory", modify: func(o *Options) { o.MemoryBytes = 12 }},
		{name: "backing", modify: func(o *Options) { o.Backing = "tape" }},
		{name: "tables", modify: func(o *Options) { o.Tables = 0 }},
		{name: "tlb", modify: func(o *Options) { o.TLBCapacity = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := good
			tc.modify(&o)
			if _, _, err := NewFromOptions(o); err == nil {
				t.Errorf("NewFromOptions(%+v) succeeded", o)
			}
		})
	}
}

func TestScenario(t *testing.T) {
	s := newState(t, 16, 8)
	f := frame.Frame{Base: 0x9000_0000, Size: frame.Size4K, Attr: rwUser}
	if err := s.Map(0x1000, f); err != nil {
		t.Fatalf("Map: %v", err)
	}
	m, err := s.Query(0x1000)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if diff := cmp.Diff(frame.Mapping{VBase: 0x1000, Frame: f}, m); diff != "" {
		t.Errorf("Query mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Unmap(0x1000); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, err := s.Query(0x1000); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("Query after Unmap: got %v, want %v", err, pterr.ErrNotMapped)
	}
	f.Base = 0xa000_0000
	if err := s.Map(0x1000, f); err != nil {
		t.Errorf("second Map: %v", err)
	}
	checkInvariants(t, s)
}

func TestReadWrite(t *testing.T) {
	s := newState(t, 16, 8)
	if err := s.Map(0x20_0000, frame.Frame{Base: 0x4000_0000, Size: frame.Size2M, Attr: rwUser}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := s.Write(0x20_1008, 0xdead); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if v, err := s.Read(0x20_1008); err != nil || v != 0xdead {
		t.Errorf("Read = %#x, %v; want 0xdead, nil", v, err)
	}
	// The write landed in the frame.
	if got := s.Load(hostarch.PhysAddr(0x4000_1008).WordIndex()); got != 0xdead {
		t.Errorf("physical word = %#x, want 0xdead", got)
	}
	if _, err := s.Read(0x40_0000); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("Read unmapped: got %v, want %v", err, pterr.ErrNotMapped)
	}
	checkInvariants(t, s)
}

func TestPermissionDenied(t *testing.T) {
	s := newState(t, 16, 8)
	ro := frame.Attr{Readable: true, UserAccessible: true}
	kernel := frame.Attr{Readable: true, Writable: true}
	if err := s.Map(0x1000, frame.Frame{Base: 0x1000, Size: frame.Size4K, Attr: ro}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := s.Map(0x2000, frame.Frame{Base: 0x2000, Size: frame.Size4K, Attr: kernel}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := s.Write(0x1000, 1); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("Write to read-only: got %v, want %v", err, pterr.ErrNotMapped)
	}
	if v, err := s.Read(0x1000); err != nil || v != 0 {
		t.Errorf("Read of read-only = %d, %v; want 0, nil", v, err)
	}
	if _, err := s.Read(0x2000); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("Read of kernel page: got %v, want %v", err, pterr.ErrNotMapped)
	}
}

func TestMapConflicts(t *testing.T) {
	s := newState(t, 16, 8)
	if err := s.Map(0x20_0000, frame.Frame{Base: 0x20_0000, Size: frame.Size2M, Attr: rwUser}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	for _, tc := range []struct {
		name  string
		vbase hostarch.Addr
		f     frame.Frame
	}{
		{name: "inside", vbase: 0x20_1000, f: frame.Frame{Base: 0x1000, Size: frame.Size4K}},
		{name: "covering", vbase: 0, f: frame.Frame{Base: 0x4000_0000, Size: frame.Size1G}},
		{name: "physical", vbase: 0x1000, f: frame.Frame{Base: 0x3f_f000, Size: frame.Size4K}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := s.View()
			if err := s.Map(tc.vbase, tc.f); !errors.Is(err, pterr.ErrConflict) {
				t.Errorf("Map: got %v, want %v", err, pterr.ErrConflict)
			}
			if !before.Equal(s.View()) {
				t.Errorf("failed Map changed the page tables:\n%v\nwant:\n%v", s.View(), before)
			}
		})
	}
	checkInvariants(t, s)
}

func TestMapExhausted(t *testing.T) {
	// Room for the root and one more table: a 4K mapping needs three.
	s := newState(t, 2, 8)
	err := s.Map(0x1000, frame.Frame{Base: 0x1000, Size: frame.Size4K, Attr: rwUser})
	if !errors.Is(err, ptmem.ErrExhausted) {
		t.Fatalf("Map: got %v, want %v", err, ptmem.ErrExhausted)
	}
	if got := s.Interpret(); len(got) != 0 {
		t.Errorf("failed Map left mappings %v", got)
	}
	// A 1G mapping needs only the level 1 table.
	if err := s.Map(0x4000_0000, frame.Frame{Base: 0x4000_0000, Size: frame.Size1G, Attr: rwUser}); err != nil {
		t.Errorf("Map after exhaustion: %v", err)
	}
	checkInvariants(t, s)
}

func TestUnmapEvicts(t *testing.T) {
	s := newState(t, 16, 8)
	f := frame.Frame{Base: 0x20_0000, Size: frame.Size2M, Attr: rwUser}
	if err := s.Map(0x20_0000, f); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, err := s.Read(0x20_0000); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := len(s.TLBEntries()); got != 1 {
		t.Fatalf("TLB has %d entries after Read, want 1", got)
	}
	if _, err := s.Unmap(0x20_0000); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if got := s.TLBEntries(); len(got) != 0 {
		t.Errorf("TLB holds %v after Unmap", got)
	}
	if _, err := s.Read(0x20_0000); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("Read after Unmap: got %v, want %v", err, pterr.ErrNotMapped)
	}
	checkInvariants(t, s)
}

func TestFillAndEvictTLB(t *testing.T) {
	s := newState(t, 16, 2)
	for i := 0; i < 3; i++ {
		vbase := hostarch.Addr(0x1000 * (i + 1))
		if err := s.Map(vbase, frame.Frame{Base: hostarch.PhysAddr(vbase), Size: frame.Size4K, Attr: rwUser}); err != nil {
			t.Fatalf("Map(%v): %v", vbase, err)
		}
		if _, err := s.FillTLB(vbase + 8); err != nil {
			t.Fatalf("FillTLB(%v): %v", vbase, err)
		}
	}
	var got []hostarch.Addr
	for _, m := range s.TLBEntries() {
		got = append(got, m.VBase)
	}
	if diff := cmp.Diff([]hostarch.Addr{0x2000, 0x3000}, got); diff != "" {
		t.Errorf("TLB contents mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.FillTLB(0x9000); !errors.Is(err, pterr.ErrNotMapped) {
		t.Errorf("FillTLB of unmapped address: got %v, want %v", err, pterr.ErrNotMapped)
	}
	if !s.EvictTLB(0x2000) || s.EvictTLB(0x2000) {
		t.Errorf("EvictTLB should succeed exactly once")
	}
	checkInvariants(t, s)
}

// TestCacheConsistency checks that reads return the same values whether or
// not the translation cache is consulted.
func TestCacheConsistency(t *testing.T) {
	cached := newState(t, 64, 4)
	uncached := newState(t, 64, 0)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		vbase := hostarch.Addr(r.Intn(16) * 0x1000)
		addr := vbase + hostarch.Addr(r.Intn(512)*8)
		switch r.Intn(4) {
		case 0:
			f := frame.Frame{Base: hostarch.PhysAddr(r.Intn(32) * 0x1000), Size: frame.Size4K, Attr: rwUser}
			e1, e2 := cached.Map(vbase, f), uncached.Map(vbase, f)
			if !pterr.Equals(e1, e2) {
				t.Fatalf("step %d: Map(%v) = %v and %v", i, vbase, e1, e2)
			}
		case 1:
			_, e1 := cached.Unmap(vbase)
			_, e2 := uncached.Unmap(vbase)
			if !pterr.Equals(e1, e2) {
				t.Fatalf("step %d: Unmap(%v) = %v and %v", i, vbase, e1, e2)
			}
		case 2:
			v := r.Uint64()
			e1, e2 := cached.Write(addr, v), uncached.Write(addr, v)
			if !pterr.Equals(e1, e2) {
				t.Fatalf("step %d: Write(%v) = %v and %v", i, addr, e1, e2)
			}
		case 3:
			v1, e1 := cached.Read(addr)
			v2, e2 := uncached.Read(addr)
			if !pterr.Equals(e1, e2) || v1 != v2 {
				t.Fatalf("step %d: Read(%v) = (%#x, %v) and (%#x, %v)", i, addr, v1, e1, v2, e2)
			}
		}
		checkInvariants(t, cached)
	}
}

func TestMetrics(t *testing.T) {
	s := newState(t, 16, 8)
	before := opsMetric.Value("unmap", "not_mapped")
	if _, err := s.Unmap(0x1000); err == nil {
		t.Fatalf("Unmap of nothing succeeded")
	}
	if got := opsMetric.Value("unmap", "not_mapped"); got != before+1 {
		t.Errorf("unmap/not_mapped = %d, want %d", got, before+1)
	}
}

func TestClose(t *testing.T) {
	s, tables, err := NewFromOptions(Options{
		Arch:        "vmsav8-16k",
		Codec:       "aarch64",
		MemoryBytes: memBytes,
		Backing:     ptmem.KindSparse,
		Tables:      8,
		TLBCapacity: 4,
	})
	if err != nil {
		t.Fatalf("NewFromOptions: %v", err)
	}
	if err := s.Map(0x4000, frame.Frame{Base: 0x4000, Size: frame.Size16K, Attr: rwUser}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := tables.InUse(); got != 3 {
		t.Errorf("InUse = %d, want 3", got)
	}
	s.Close()
	if got := tables.InUse(); got != 1 {
		t.Errorf("InUse after Close = %d, want 1", got)
	}
	if got := s.Interpret(); len(got) != 0 {
		t.Errorf("mappings after Close: %v", got)
	}
	checkInvariants(t, s)
}
