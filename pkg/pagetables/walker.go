// Copyright 2018 The gVisor Authors.
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
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// visitor is called by a Walker.
type visitor interface {
	// leaf is called for each leaf overlapping the walked range, with the
	// base of the region the leaf maps.
	leaf(vbase hostarch.Addr, level int, e Entry) bool

	// table is called for each table below the root overlapping the walked
	// range, after the table's own entries have been walked. vbase and level
	// are the base of the region the table covers and its level; parent and
	// index locate the entry pointing to it.
	table(vbase hostarch.Addr, level int, parent hostarch.PhysAddr, index int, base hostarch.PhysAddr) bool
}

// Walker walks page tables over a range, calling a visitor. Returning false
// from the visitor stops the walk.
type Walker struct {
	// pageTables are the tables to walk.
	pageTables *PageTables

	// visitor is called for each entry found.
	visitor visitor
}

// addrEnd returns the next boundary of size after addr, or end if that
// comes first. size is a power of two.
func addrEnd(addr, end hostarch.Addr, size uint64) hostarch.Addr {
	next := (addr + hostarch.Addr(size)).RoundDown(size)
	if next < addr || next > end {
		return end
	}
	return next
}

// iterateRange walks [start, end). It returns false if the visitor stopped
// the walk.
func (w *Walker) iterateRange(start, end hostarch.Addr) bool {
	if span := hostarch.Addr(w.pageTables.arch.Span()); end > span {
		end = span
	}
	if start >= end {
		return true
	}
	return w.walkLevel(w.pageTables.root, 0, start, end)
}

// walkLevel walks the entries of the table at base overlapping [start, end).
func (w *Walker) walkLevel(base hostarch.PhysAddr, level int, start, end hostarch.Addr) bool {
	p := w.pageTables
	size := uint64(p.arch.FrameSize(level))
	for start < end {
		index := p.arch.IndexOf(start, level)
		next := addrEnd(start, end, size)
		e := p.entry(base, index, level)
		switch {
		case !e.Valid:
		case e.Leaf:
			if !w.visitor.leaf(start.RoundDown(size), level, e) {
				return false
			}
		default:
			if !w.walkLevel(e.Addr, level+1, start, next) {
				return false
			}
			if !w.visitor.table(start.RoundDown(size), level+1, base, index, e.Addr) {
				return false
			}
		}
		start = next
	}
	return true
}

// mappingsVisitor collects leaves as mappings.
type mappingsVisitor struct {
	arch     *frame.Arch
	mappings []frame.Mapping
}

func (v *mappingsVisitor) leaf(vbase hostarch.Addr, level int, e Entry) bool {
	v.mappings = append(v.mappings, frame.Mapping{
		VBase: vbase,
		Frame: frame.Frame{Base: e.Addr, Size: v.arch.FrameSize(level), Attr: e.Attr},
	})
	return true
}

func (*mappingsVisitor) table(hostarch.Addr, int, hostarch.PhysAddr, int, hostarch.PhysAddr) bool {
	return true
}

// leafFinder stops at the first leaf.
type leafFinder struct {
	found bool
}

func (v *leafFinder) leaf(hostarch.Addr, int, Entry) bool {
	v.found = true
	return false
}

func (*leafFinder) table(hostarch.Addr, int, hostarch.PhysAddr, int, hostarch.PhysAddr) bool {
	return true
}

// releaser frees the tables covering regions entirely inside ar and clears
// the entries pointing to them. Leaves inside freed tables are dropped with
// them; other leaves are left in place.
type releaser struct {
	pageTables *PageTables
	ar         hostarch.AddrRange
}

func (*releaser) leaf(hostarch.Addr, int, Entry) bool {
	return true
}

func (v *releaser) table(vbase hostarch.Addr, level int, parent hostarch.PhysAddr, index int, base hostarch.PhysAddr) bool {
	p := v.pageTables
	region := hostarch.AddrRange{Start: vbase, End: vbase + hostarch.Addr(p.arch.FrameSize(level-1))}
	if v.ar.IsSupersetOf(region) {
		p.clearEntry(parent, index)
		p.mem.FreeTable(base)
	}
	return true
}

// MappingsIn returns the mappings overlapping ar, in address order.
func (p *PageTables) MappingsIn(ar hostarch.AddrRange) []frame.Mapping {
	v := mappingsVisitor{arch: p.arch}
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(ar.Start, ar.End)
	return v.mappings
}

// Mappings returns every mapping, in address order.
func (p *PageTables) Mappings() []frame.Mapping {
	return p.MappingsIn(hostarch.AddrRange{Start: 0, End: hostarch.Addr(p.arch.Span())})
}

// hasLeaves returns true if any leaf overlaps ar.
func (p *PageTables) hasLeaves(ar hostarch.AddrRange) bool {
	var v leafFinder
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(ar.Start, ar.End)
	return v.found
}

// releaseRange frees every table whose region lies inside ar.
func (p *PageTables) releaseRange(ar hostarch.AddrRange) {
	w := Walker{pageTables: p, visitor: &releaser{pageTables: p, ar: ar}}
	w.iterateRange(ar.Start, ar.End)
}
