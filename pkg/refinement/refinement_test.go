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

package refinement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/mmu"
	"gvisor.dev/pagetree/pkg/ptmem"
)

func options(arch, codec string, tables int) mmu.Options {
	return mmu.Options{
		Arch:        arch,
		Codec:       codec,
		MemoryBytes: 1 << 32,
		Backing:     ptmem.KindSparse,
		Tables:      tables,
		TLBCapacity: 8,
	}
}

func newHarness(t *testing.T, opts mmu.Options) *Harness {
	t.Helper()
	h, err := NewHarness(opts)
	if err != nil {
		t.Fatalf("NewHarness: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestScenario(t *testing.T) {
	h := newHarness(t, options("vmsav8-4k", "aarch64", 16))
	f := frame.Frame{Base: 0x9000_0000, Size: frame.Size4K, Attr: frame.Attr{Readable: true, Writable: true, UserAccessible: true}}
	g := f
	g.Base = 0xa000_0000
	for _, tc := range []struct {
		op   Op
		want Result
	}{
		{op: Op{Kind: Map, Addr: 0x1000, Frame: f}},
		{op: Op{Kind: Query, Addr: 0x1000}, want: Result{Mapping: frame.Mapping{VBase: 0x1000, Frame: f}}},
		{op: Op{Kind: Write, Addr: 0x1010, Value: 5}},
		{op: Op{Kind: Read, Addr: 0x1010}, want: Result{Value: 5}},
		{op: Op{Kind: Unmap, Addr: 0x1000}, want: Result{Mapping: frame.Mapping{VBase: 0x1000, Frame: f}}},
		{op: Op{Kind: Query, Addr: 0x1000}, want: Result{Err: pterr.ErrNotMapped}},
		{op: Op{Kind: Map, Addr: 0x1000, Frame: g}},
		{op: Op{Kind: Read, Addr: 0x1010}, want: Result{Value: 0}},
	} {
		got, err := h.Step(tc.op)
		if err != nil {
			t.Fatalf("Step(%v): %v", tc.op, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("Step(%v) = %v, want %v", tc.op, got, tc.want)
		}
	}
	if err := h.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
	want := []frame.Mapping{{VBase: 0x1000, Frame: g}}
	if diff := cmp.Diff(want, h.HighLevel().Mappings()); diff != "" {
		t.Errorf("high-level mappings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, h.Model().Mappings()); diff != "" {
		t.Errorf("model mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestSequences(t *testing.T) {
	for _, tc := range []struct {
		arch, codec string
	}{
		{"vmsav8-4k", "aarch64"},
		{"vmsav8-4k", "x86"},
		{"x86-64", "x86"},
		{"vmsav8-16k", "aarch64"},
	} {
		t.Run(tc.arch+"/"+tc.codec, func(t *testing.T) {
			opts := Options{MMU: options(tc.arch, tc.codec, 64), Steps: 400, CheckEvery: 1}
			for seed := int64(0); seed < 4; seed++ {
				f, err := RunSeed(context.Background(), opts, seed)
				if err != nil {
					t.Fatalf("RunSeed(%d): %v", seed, err)
				}
				if f != nil {
					t.Errorf("divergence: %v", f)
				}
			}
		})
	}
}

func TestRun(t *testing.T) {
	opts := Options{
		MMU:         options("vmsav8-4k", "aarch64", 512),
		FirstSeed:   100,
		Seeds:       8,
		Steps:       300,
		CheckEvery:  50,
		Parallelism: 4,
	}
	r, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Seeds != 8 || r.Steps != 300 {
		t.Errorf("Report = %+v, want 8 seeds of 300 steps", r)
	}
	for _, f := range r.Failures {
		t.Errorf("divergence: %v", f)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := Options{MMU: options("vmsav8-4k", "aarch64", 16), Seeds: 2, Steps: 10}
	if _, err := Run(ctx, opts); !errors.Is(err, context.Canceled) {
		t.Errorf("Run with a canceled context: got %v, want %v", err, context.Canceled)
	}
}

func TestExhaustionIsRefused(t *testing.T) {
	// Only the root: every Map below level 0 needs a table.
	h := newHarness(t, options("vmsav8-4k", "aarch64", 1))
	op := Op{Kind: Map, Addr: 0x1000, Frame: frame.Frame{Base: 0x1000, Size: frame.Size4K}}
	got, err := h.Step(op)
	if err != nil {
		t.Fatalf("Step(%v): %v", op, err)
	}
	if !errors.Is(got.Err, ptmem.ErrExhausted) {
		t.Errorf("Step(%v) = %v, want %v", op, got, ptmem.ErrExhausted)
	}
	if err := h.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestCheckDetectsDivergence(t *testing.T) {
	h := newHarness(t, options("vmsav8-4k", "aarch64", 16))
	// Map behind the harness's back.
	if err := h.LowLevel().Map(0x1000, frame.Frame{Base: 0x1000, Size: frame.Size4K}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := h.Check(); err == nil {
		t.Errorf("Check did not notice a mapping missing from the high level")
	}
	if _, err := h.Step(Op{Kind: Query, Addr: 0x1000}); err == nil {
		t.Errorf("Step did not notice a diverging Query")
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	a := frame.VMSAv8With4K
	g1, err := NewGenerator(a, 1<<32, 7)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	g2, err := NewGenerator(a, 1<<32, 7)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ops1 := g1.Ops(200)
	ops2 := g2.Ops(200)
	if diff := cmp.Diff(ops1, ops2); diff != "" {
		t.Errorf("same seed produced different operations (-first +second):\n%s", diff)
	}
	kinds := make(map[Kind]int)
	for _, op := range ops1 {
		kinds[op.Kind]++
		if op.Kind == Map {
			if err := a.CheckMapping(op.Addr, op.Frame, frame.Bounds{Upper: 1 << 32}); err != nil {
				t.Errorf("generated invalid %v: %v", op, err)
			}
		}
	}
	for k := Read; k < numKinds; k++ {
		if kinds[k] == 0 {
			t.Errorf("no %v operations in 200", k)
		}
	}
}

func TestSmallMemoryRejected(t *testing.T) {
	opts := options("vmsav8-4k", "aarch64", 16)
	opts.MemoryBytes = 8 << 10
	if _, err := RunSeed(context.Background(), Options{MMU: opts, Steps: 10}, 0); err == nil {
		t.Errorf("RunSeed with %d bytes of memory succeeded", opts.MemoryBytes)
	}
	if _, err := Run(context.Background(), Options{MMU: opts, Seeds: 2, Steps: 10}); err == nil {
		t.Errorf("Run with %d bytes of memory succeeded", opts.MemoryBytes)
	}
}

func TestKindText(t *testing.T) {
	for k := Read; k < numKinds; k++ {
		var got Kind
		if err := got.UnmarshalText([]byte(k.String())); err != nil || got != k {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", k.String(), got, err, k)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("flush")); err == nil {
		t.Errorf("UnmarshalText(flush) succeeded")
	}
}
