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

package pttree

import (
	"fmt"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/ptpath"
)

// Query returns the mapping covering vaddr. The virtual base is rebuilt from
// the path walked.
func (t Tree) Query(vaddr hostarch.Addr) (frame.Mapping, error) {
	if !t.arch.InSpan(vaddr) {
		return frame.Mapping{}, pterr.NotMappedf("address %v outside span", vaddr)
	}
	p := ptpath.FromAddress(t.arch, vaddr, t.arch.LastLevel())
	entries := t.Visit(p)
	last := entries[len(entries)-1]
	if last.Kind != Leaf {
		return frame.Mapping{}, pterr.NotMappedf("address %v not mapped", vaddr)
	}
	return frame.Mapping{
		VBase: p.Trim(len(entries)).ToAddress(t.arch),
		Frame: last.Frame,
	}, nil
}

// Map maps f at vbase. vbase and f must satisfy frame.Arch.CheckMapping;
// violations panic.
//
// Map fails with a Conflict if the virtual range is occupied, or if f
// overlaps a frame that is already mapped. If the target slot holds a table
// with no mappings below it, the table is discarded first.
func (t Tree) Map(vbase hostarch.Addr, f frame.Frame) (Tree, error) {
	if err := t.arch.CheckMapping(vbase, f, t.bounds); err != nil {
		panic(fmt.Sprintf("map %v: %v", vbase, err))
	}
	for _, m := range t.Mappings() {
		if m.Frame.Range().Overlaps(f.Range()) {
			return t, pterr.Conflictf("frame %v overlaps %v", f, m)
		}
	}
	level, _ := t.arch.LevelOfFrameSize(f.Size)
	p := ptpath.FromAddress(t.arch, vbase, level)
	orig := t
	if entries := t.Visit(p); len(entries) == len(p) {
		if last := entries[len(entries)-1]; last.Kind == Child && !last.Child.HasLeaves() {
			t.root = clearSlot(t.root, p)
		}
	}
	nt, err := t.Insert(p, f)
	if err != nil {
		return orig, err
	}
	return nt, nil
}

// Unmap removes the mapping whose virtual base is exactly vbase, at
// whichever level it is found.
func (t Tree) Unmap(vbase hostarch.Addr) (Tree, error) {
	if !t.arch.InSpan(vbase) {
		return t, pterr.NotMappedf("address %v outside span", vbase)
	}
	p := ptpath.FromAddress(t.arch, vbase, t.arch.LastLevel())
	entries := t.Visit(p)
	level := len(entries) - 1
	if entries[level].Kind != Leaf || !vbase.IsAligned(uint64(t.arch.FrameSize(level))) {
		return t, pterr.NotMappedf("no mapping based at %v", vbase)
	}
	return t.Remove(p.Trim(level + 1))
}

// CheckInvariants verifies the structure of the tree: table sizes match the
// geometry, leaves have their level's frame size and are aligned and within
// bounds, tables only appear above the last level at the next level down,
// and no two mappings overlap virtually or physically.
func (t Tree) CheckInvariants() error {
	if t.root == nil || t.root.Level != 0 {
		return fmt.Errorf("bad root %+v", t.root)
	}
	if err := t.checkNode(t.root, nil); err != nil {
		return err
	}
	return frame.CheckOverlap(t.Mappings())
}

func (t Tree) checkNode(n *Node, prefix ptpath.Path) error {
	if want := t.arch.EntryCount(n.Level); len(n.Entries) != want {
		return fmt.Errorf("table at %v has %d entries, wanted %d", prefix, len(n.Entries), want)
	}
	for i, e := range n.Entries {
		switch e.Kind {
		case Empty:
		case Leaf:
			f := e.Frame
			if want := t.arch.FrameSize(n.Level); f.Size != want {
				return fmt.Errorf("leaf at %v has size %v, wanted %v", prefix.Append(i), f.Size, want)
			}
			if !f.Base.IsAligned(uint64(f.Size)) {
				return fmt.Errorf("leaf at %v has unaligned base %v", prefix.Append(i), f.Base)
			}
			if !t.bounds.Fits(f) {
				return fmt.Errorf("leaf at %v frame %v outside bounds %v", prefix.Append(i), f, t.bounds)
			}
		case Child:
			if n.Level == t.arch.LastLevel() {
				return fmt.Errorf("table below last level at %v", prefix.Append(i))
			}
			if e.Child == nil || e.Child.Level != n.Level+1 {
				return fmt.Errorf("bad child at %v", prefix.Append(i))
			}
			if err := t.checkNode(e.Child, prefix.Append(i)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("bad entry kind %v at %v", e.Kind, prefix.Append(i))
		}
	}
	return nil
}
