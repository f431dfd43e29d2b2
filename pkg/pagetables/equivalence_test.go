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

package pagetables_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pagetables"
	"gvisor.dev/pagetree/pkg/ptpath"
	"gvisor.dev/pagetree/pkg/pttree"
)

// decodeVisit converts walked entries to the tree's representation, without
// children, for comparison with pttree.Tree.Visit.
func decodeVisit(a *frame.Arch, entries []pagetables.Entry) []pttree.Entry {
	out := make([]pttree.Entry, len(entries))
	for level, e := range entries {
		switch {
		case !e.Valid:
		case e.Leaf:
			out[level] = pttree.LeafEntry(frame.Frame{Base: e.Addr, Size: a.FrameSize(level), Attr: e.Attr})
		default:
			out[level] = pttree.Entry{Kind: pttree.Child}
		}
	}
	return out
}

func stripChildren(entries []pttree.Entry) []pttree.Entry {
	out := make([]pttree.Entry, len(entries))
	for i, e := range entries {
		e.Child = nil
		out[i] = e
	}
	return out
}

// randomPath returns a path with small indices, so that random paths share
// prefixes often.
func randomPath(r *rand.Rand, a *frame.Arch) ptpath.Path {
	p := make(ptpath.Path, 1+r.Intn(a.LevelCount()))
	for i := range p {
		p[i] = r.Intn(3)
	}
	return p
}

func randomAttr(r *rand.Rand) frame.Attr {
	bits := r.Intn(32)
	return frame.Attr{
		Readable:       bits&1 != 0,
		Writable:       bits&2 != 0,
		Executable:     bits&4 != 0,
		UserAccessible: bits&8 != 0,
		Device:         bits&16 != 0,
	}
}

// TestEquivalence applies the same random inserts, removes and walks to the
// executable tables and to the tree model, comparing every result and the
// decoded tables after every step.
func TestEquivalence(t *testing.T) {
	for _, a := range []*frame.Arch{frame.VMSAv8With4K, frame.VMSAv8With16K} {
		t.Run(a.Name, func(t *testing.T) {
			forEachCodec(t, func(t *testing.T, codec pagetables.EntryCodec) {
				testEquivalence(t, a, codec)
			})
		})
	}
}

func testEquivalence(t *testing.T, a *frame.Arch, codec pagetables.EntryCodec) {
	r := rand.New(rand.NewSource(int64(len(a.Name))))
	pt, _ := newPageTables(t, a, codec, 256)
	tree := pttree.New(a, bounds)
	for step := 0; step < 1000; step++ {
		p := randomPath(r, a)
		switch r.Intn(3) {
		case 0:
			size := a.FrameSize(p.Level())
			f := frame.Frame{
				Base: hostarch.PhysAddr(uint64(r.Intn(16)) * uint64(size)),
				Size: size,
				Attr: randomAttr(r),
			}
			if uint64(f.Base)+uint64(size) > uint64(bounds.Upper) {
				f.Base = 0
			}
			err := pt.Insert(p, f)
			nt, terr := tree.Insert(p, f)
			if !pterr.Equals(err, terr) {
				t.Fatalf("step %d: Insert(%v, %v): tables %v, tree %v", step, p, f, err, terr)
			}
			tree = nt
		case 1:
			err := pt.Remove(p)
			nt, terr := tree.Remove(p)
			if !pterr.Equals(err, terr) {
				t.Fatalf("step %d: Remove(%v): tables %v, tree %v", step, p, err, terr)
			}
			tree = nt
		case 2:
			got := decodeVisit(a, pt.Walk(p))
			want := stripChildren(tree.Visit(p))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("step %d: Walk(%v) mismatch (-tree +tables):\n%s", step, p, diff)
			}
		}
		if !pt.View().Equal(tree) {
			t.Fatalf("step %d: tables diverged from tree:\ntables:\n%v\ntree:\n%v", step, pt.View(), tree)
		}
	}
	if diff := cmp.Diff(tree.Mappings(), pt.Mappings(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Mappings mismatch (-tree +tables):\n%s", diff)
	}
}

// TestMapEquivalence compares the derived map, unmap and query operations.
// Frames are identity mapped, so physical overlap implies virtual overlap.
func TestMapEquivalence(t *testing.T) {
	a := frame.VMSAv8With4K
	sizes := []frame.Size{frame.Size4K, frame.Size2M, frame.Size1G}
	forEachCodec(t, func(t *testing.T, codec pagetables.EntryCodec) {
		r := rand.New(rand.NewSource(3))
		pt, _ := newPageTables(t, a, codec, 256)
		tree := pttree.New(a, bounds)
		for step := 0; step < 3000; step++ {
			size := sizes[r.Intn(len(sizes))]
			vbase := hostarch.Addr(uint64(r.Intn(4)) * uint64(size))
			switch r.Intn(3) {
			case 0:
				f := frame.Frame{Base: hostarch.PhysAddr(vbase), Size: size, Attr: randomAttr(r)}
				err := pt.Map(vbase, f)
				nt, terr := tree.Map(vbase, f)
				if !pterr.Equals(err, terr) {
					t.Fatalf("step %d: Map(%v, %v): tables %v, tree %v", step, vbase, f, err, terr)
				}
				tree = nt
			case 1:
				_, err := pt.Unmap(vbase)
				nt, terr := tree.Unmap(vbase)
				if !pterr.Equals(err, terr) {
					t.Fatalf("step %d: Unmap(%v): tables %v, tree %v", step, vbase, err, terr)
				}
				tree = nt
			case 2:
				vaddr := vbase + hostarch.Addr(r.Intn(int(size)))&^7
				got, err := pt.Query(vaddr)
				want, terr := tree.Query(vaddr)
				if !pterr.Equals(err, terr) || got != want {
					t.Fatalf("step %d: Query(%v): tables (%v, %v), tree (%v, %v)", step, vaddr, got, err, want, terr)
				}
			}
			if !pt.View().Equal(tree) {
				t.Fatalf("step %d: tables diverged from tree:\ntables:\n%v\ntree:\n%v", step, pt.View(), tree)
			}
			if err := tree.CheckInvariants(); err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
		}
	})
}
