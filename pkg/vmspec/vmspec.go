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

// Package vmspec is the flat model of a virtual address space: word-indexed
// virtual memory plus a map from virtual base to frame. It has no page
// tables and no translation cache, and serves as the reference that
// package mmu is checked against.
package vmspec

import (
	"fmt"

	"github.com/google/btree"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// WordSource supplies the contents of physical memory for a newly mapped
// frame. Words are fetched lazily, so a source must not change for a frame
// while it is mapped except through the State it was given to.
type WordSource interface {
	Load(p hostarch.PIdx) uint64
}

// ZeroSource is a WordSource of zeroes.
type ZeroSource struct{}

// Load implements WordSource.Load.
func (ZeroSource) Load(hostarch.PIdx) uint64 { return 0 }

// region is a mapping together with the words written through it.
type region struct {
	frame.Mapping

	src WordSource

	// words holds every word written since the mapping was created. Keys
	// lie in the mapping's range.
	words map[hostarch.VIdx]uint64
}

func regionLess(a, b *region) bool {
	return a.VBase < b.VBase
}

func physLess(a, b *region) bool {
	return a.Frame.Base < b.Frame.Base
}

// State is the high-level memory state.
//
// The zero value is not usable; use New.
type State struct {
	// pmemBytes is the size of physical memory.
	pmemBytes uint64

	// byVirt and byPhys index the same regions by virtual and physical base.
	byVirt *btree.BTreeG[*region]
	byPhys *btree.BTreeG[*region]
}

// New returns an empty State over pmemBytes of physical memory.
func New(pmemBytes uint64) *State {
	return &State{
		pmemBytes: pmemBytes,
		byVirt:    btree.NewG(8, regionLess),
		byPhys:    btree.NewG(8, physLess),
	}
}

// PhysicalMemorySize returns the size of physical memory in bytes.
func (s *State) PhysicalMemorySize() uint64 {
	return s.pmemBytes
}

// regionFor returns the region whose virtual range contains vaddr.
func (s *State) regionFor(vaddr hostarch.Addr) *region {
	var found *region
	s.byVirt.DescendLessOrEqual(&region{Mapping: frame.Mapping{VBase: vaddr}}, func(r *region) bool {
		if r.Range().Contains(vaddr) {
			found = r
		}
		return false
	})
	return found
}

// HasMappingFor returns true if some mapping covers vaddr.
func (s *State) HasMappingFor(vaddr hostarch.Addr) bool {
	return s.regionFor(vaddr) != nil
}

// MappingFor returns the mapping covering vaddr.
func (s *State) MappingFor(vaddr hostarch.Addr) (frame.Mapping, bool) {
	r := s.regionFor(vaddr)
	if r == nil {
		return frame.Mapping{}, false
	}
	return r.Mapping, true
}

// Covers returns true if the word at index i is in the memory domain, that
// is, covered by a mapping.
func (s *State) Covers(i hostarch.VIdx) bool {
	return s.HasMappingFor(i.Addr())
}

// access resolves vaddr for a read (write == false) or write.
func (s *State) access(vaddr hostarch.Addr, write bool) (*region, hostarch.PhysAddr, error) {
	if !vaddr.IsAligned(hostarch.WordSize) {
		panic(fmt.Sprintf("vmspec: unaligned access at %v", vaddr))
	}
	r := s.regionFor(vaddr)
	if r == nil {
		return nil, 0, pterr.NotMappedf("address %v not mapped", vaddr)
	}
	paddr := r.Translate(vaddr)
	attr := r.Frame.Attr
	switch {
	case uint64(paddr) >= s.pmemBytes:
		return nil, 0, pterr.NotMappedf("address %v translates to %v outside physical memory", vaddr, paddr)
	case !attr.UserAccessible:
		return nil, 0, pterr.NotMappedf("address %v is not user accessible", vaddr)
	case write && !attr.Writable:
		return nil, 0, pterr.NotMappedf("address %v is not writable", vaddr)
	case !write && !attr.Readable:
		return nil, 0, pterr.NotMappedf("address %v is not readable", vaddr)
	}
	return r, paddr, nil
}

// Read returns the word at vaddr, which must be word aligned.
func (s *State) Read(vaddr hostarch.Addr) (uint64, error) {
	r, paddr, err := s.access(vaddr, false)
	if err != nil {
		return 0, err
	}
	if v, ok := r.words[vaddr.WordIndex()]; ok {
		return v, nil
	}
	return r.src.Load(paddr.WordIndex()), nil
}

// Write stores v at vaddr, which must be word aligned.
func (s *State) Write(vaddr hostarch.Addr, v uint64) error {
	r, _, err := s.access(vaddr, true)
	if err != nil {
		return err
	}
	r.words[vaddr.WordIndex()] = v
	return nil
}

// Map adds a mapping of f at vbase, reading the initial contents of f from
// src.
//
// Precondition: vbase and f.Base are aligned to f.Size, which is a power
// of two.
//
// Map fails with a Conflict if the virtual range or the physical range
// overlaps an existing mapping.
func (s *State) Map(vbase hostarch.Addr, f frame.Frame, src WordSource) error {
	size := uint64(f.Size)
	if !hostarch.IsPowerOfTwo(size) || !vbase.IsAligned(size) || !f.Base.IsAligned(size) {
		panic(fmt.Sprintf("vmspec: misaligned mapping %v -> %v", vbase, f))
	}
	m := frame.Mapping{VBase: vbase, Frame: f}
	if o, ok := s.overlapsVirt(m); ok {
		return pterr.Conflictf("%v overlaps %v", m, o)
	}
	if o, ok := s.overlapsPhys(m); ok {
		return pterr.Conflictf("%v overlaps %v in physical memory", m, o)
	}
	if src == nil {
		src = ZeroSource{}
	}
	r := &region{Mapping: m, src: src, words: make(map[hostarch.VIdx]uint64)}
	s.byVirt.ReplaceOrInsert(r)
	s.byPhys.ReplaceOrInsert(r)
	return nil
}

// overlapsVirt returns a mapping whose virtual range overlaps m's.
func (s *State) overlapsVirt(m frame.Mapping) (frame.Mapping, bool) {
	mr := m.Range()
	var found *region
	// Only the last region starting at or before the end can overlap, given
	// that regions are disjoint.
	s.byVirt.DescendLessOrEqual(&region{Mapping: frame.Mapping{VBase: mr.End - 1}}, func(r *region) bool {
		if r.Range().Overlaps(mr) {
			found = r
		}
		return false
	})
	if found == nil {
		return frame.Mapping{}, false
	}
	return found.Mapping, true
}

// overlapsPhys returns a mapping whose physical range overlaps m's.
func (s *State) overlapsPhys(m frame.Mapping) (frame.Mapping, bool) {
	fr := m.Frame.Range()
	var found *region
	s.byPhys.DescendLessOrEqual(&region{Mapping: frame.Mapping{Frame: frame.Frame{Base: fr.End - 1}}}, func(r *region) bool {
		if r.Frame.Range().Overlaps(fr) {
			found = r
		}
		return false
	})
	if found == nil {
		return frame.Mapping{}, false
	}
	return found.Mapping, true
}

// Unmap removes the mapping based exactly at vbase and returns it. Words of
// the removed range leave the memory domain.
func (s *State) Unmap(vbase hostarch.Addr) (frame.Mapping, error) {
	r, ok := s.byVirt.Get(&region{Mapping: frame.Mapping{VBase: vbase}})
	if !ok {
		return frame.Mapping{}, pterr.NotMappedf("no mapping based at %v", vbase)
	}
	s.byVirt.Delete(r)
	s.byPhys.Delete(r)
	return r.Mapping, nil
}

// Query returns the mapping covering vaddr.
func (s *State) Query(vaddr hostarch.Addr) (frame.Mapping, error) {
	m, ok := s.MappingFor(vaddr)
	if !ok {
		return frame.Mapping{}, pterr.NotMappedf("address %v not mapped", vaddr)
	}
	return m, nil
}

// Mappings returns every mapping in address order.
func (s *State) Mappings() []frame.Mapping {
	ms := make([]frame.Mapping, 0, s.byVirt.Len())
	s.byVirt.Ascend(func(r *region) bool {
		ms = append(ms, r.Mapping)
		return true
	})
	return ms
}

// Written returns the words written through live mappings, keyed by word
// index.
func (s *State) Written() map[hostarch.VIdx]uint64 {
	out := make(map[hostarch.VIdx]uint64)
	s.byVirt.Ascend(func(r *region) bool {
		for i, v := range r.words {
			out[i] = v
		}
		return true
	})
	return out
}

// CheckInvariants verifies that mappings are aligned and pairwise disjoint
// in both address spaces, and that every written word lies in the memory
// domain.
func (s *State) CheckInvariants() error {
	if s.byVirt.Len() != s.byPhys.Len() {
		return fmt.Errorf("index sizes differ: %d virtual, %d physical", s.byVirt.Len(), s.byPhys.Len())
	}
	var err error
	s.byVirt.Ascend(func(r *region) bool {
		size := uint64(r.Frame.Size)
		if !r.VBase.IsAligned(size) || !r.Frame.Base.IsAligned(size) {
			err = fmt.Errorf("%v is misaligned", r.Mapping)
			return false
		}
		for i := range r.words {
			if !r.Range().Contains(i.Addr()) {
				err = fmt.Errorf("word %#x written outside %v", uint64(i), r.Mapping)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return frame.CheckOverlap(s.Mappings())
}
