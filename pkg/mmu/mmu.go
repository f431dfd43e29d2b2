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

// Package mmu models the hardware-facing memory state: page tables,
// physical memory and a translation cache.
//
// Every operation of State is atomic. A failed operation leaves the page
// tables, physical memory and mappings unchanged.
package mmu

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/btree"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/pagetables"
	"gvisor.dev/pagetree/pkg/ptmem"
	"gvisor.dev/pagetree/pkg/pttree"
	"gvisor.dev/pagetree/pkg/sync"
)

// Config describes the collaborators of a State.
type Config struct {
	// Arch is the page table geometry.
	Arch *frame.Arch

	// Codec encodes page table entries.
	Codec pagetables.EntryCodec

	// Tables holds the page tables.
	Tables pagetables.Memory

	// Memory is physical memory, starting at physical address zero. Frames
	// may only be mapped inside it.
	Memory ptmem.Backing

	// TLBCapacity is the number of translation cache entries.
	TLBCapacity int
}

// State is the low-level memory state.
type State struct {
	// mu serializes operations.
	mu sync.Mutex

	// +checklocks:mu
	pt *pagetables.PageTables

	// +checklocks:mu
	mem ptmem.Backing

	// +checklocks:mu
	tlb *TLB

	// owners indexes the live mappings by physical base.
	//
	// +checklocks:mu
	owners *btree.BTreeG[frame.Mapping]

	// limited reports denied accesses and cache thrash.
	limited log.Logger
}

func ownerLess(a, b frame.Mapping) bool {
	return a.Frame.Base < b.Frame.Base
}

// New returns a State with empty page tables over cfg.
func New(cfg Config) (*State, error) {
	if cfg.Arch == nil {
		return nil, errors.New("mmu: no architecture")
	}
	if err := cfg.Arch.Validate(); err != nil {
		return nil, err
	}
	if cfg.Codec == nil || cfg.Tables == nil || cfg.Memory == nil {
		return nil, errors.New("mmu: codec, tables and memory are required")
	}
	if cfg.TLBCapacity < 0 {
		return nil, fmt.Errorf("mmu: negative TLB capacity %d", cfg.TLBCapacity)
	}
	bounds := frame.Bounds{Lower: 0, Upper: hostarch.PhysAddr(cfg.Memory.Words() * hostarch.WordSize)}
	return &State{
		pt:      pagetables.New(cfg.Arch, bounds, cfg.Codec, cfg.Tables),
		mem:     cfg.Memory,
		tlb:     NewTLB(cfg.Arch, cfg.TLBCapacity),
		owners:  btree.NewG(8, ownerLess),
		limited: log.BasicRateLimitedLogger(time.Second),
	}, nil
}

// Arch returns the page table geometry.
func (s *State) Arch() *frame.Arch {
	return s.pt.Arch()
}

// Bounds returns the physical memory window.
func (s *State) Bounds() frame.Bounds {
	return s.pt.Bounds()
}

// PhysicalMemorySize returns the size of physical memory in bytes.
func (s *State) PhysicalMemorySize() uint64 {
	return uint64(s.pt.Bounds().Upper)
}

// Load returns the physical word at index i. It implements
// vmspec.WordSource.
func (s *State) Load(i hostarch.PIdx) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Load(i)
}

// translate resolves vaddr through the TLB, refilling it from the page
// tables on a miss.
//
// +checklocks:s.mu
func (s *State) translate(vaddr hostarch.Addr) (frame.Mapping, error) {
	if m, ok := s.tlb.Lookup(vaddr); ok {
		tlbMetric.Increment("hit")
		return m, nil
	}
	tlbMetric.Increment("miss")
	return s.fillLocked(vaddr)
}

// fillLocked walks the page tables for vaddr and caches the result.
//
// +checklocks:s.mu
func (s *State) fillLocked(vaddr hostarch.Addr) (frame.Mapping, error) {
	m, err := s.pt.Query(vaddr)
	if err != nil {
		return frame.Mapping{}, err
	}
	tlbMetric.Increment("fill")
	if old, ok := s.tlb.Fill(m); ok {
		tlbMetric.Increment("evict")
		s.limited.Debugf("mmu: translation cache full, evicted %v", old)
	}
	return m, nil
}

// access resolves and checks vaddr for a read or write, returning the
// physical word to access.
//
// +checklocks:s.mu
func (s *State) access(vaddr hostarch.Addr, write bool) (hostarch.PIdx, error) {
	if !vaddr.IsAligned(hostarch.WordSize) {
		panic(fmt.Sprintf("mmu: unaligned access at %v", vaddr))
	}
	m, err := s.translate(vaddr)
	if err != nil {
		return 0, err
	}
	paddr := m.Translate(vaddr)
	attr := m.Frame.Attr
	switch {
	case uint64(paddr.WordIndex()) >= s.mem.Words():
		err = pterr.NotMappedf("address %v translates to %v outside physical memory", vaddr, paddr)
	case !attr.UserAccessible:
		err = pterr.NotMappedf("address %v is not user accessible", vaddr)
	case write && !attr.Writable:
		err = pterr.NotMappedf("address %v is not writable", vaddr)
	case !write && !attr.Readable:
		err = pterr.NotMappedf("address %v is not readable", vaddr)
	}
	if err != nil {
		s.limited.Debugf("mmu: access denied: %v", err)
		return 0, err
	}
	return paddr.WordIndex(), nil
}

// Read returns the word at vaddr, which must be word aligned.
func (s *State) Read(vaddr hostarch.Addr) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.access(vaddr, false)
	opsMetric.Increment("read", resultOf(err))
	if err != nil {
		return 0, err
	}
	return s.mem.Load(i), nil
}

// Write stores v at vaddr, which must be word aligned.
func (s *State) Write(vaddr hostarch.Addr, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.access(vaddr, true)
	opsMetric.Increment("write", resultOf(err))
	if err != nil {
		return err
	}
	s.mem.Store(i, v)
	return nil
}

// physOverlap returns the live mapping whose frame overlaps f.
//
// +checklocks:s.mu
func (s *State) physOverlap(f frame.Frame) (frame.Mapping, bool) {
	fr := f.Range()
	var found frame.Mapping
	ok := false
	s.owners.DescendLessOrEqual(frame.Mapping{Frame: frame.Frame{Base: fr.End - 1}}, func(m frame.Mapping) bool {
		if m.Frame.Range().Overlaps(fr) {
			found, ok = m, true
		}
		return false
	})
	return found, ok
}

// Map maps f at vbase.
//
// Precondition: Arch().CheckMapping(vbase, f, Bounds()) == nil.
//
// Map fails with a Conflict if the virtual range or the frame overlaps an
// existing mapping, and with ptmem.ErrExhausted if no page table memory is
// left.
func (s *State) Map(vbase hostarch.Addr, f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.mapLocked(vbase, f)
	opsMetric.Increment("map", resultOf(err))
	return err
}

// +checklocks:s.mu
func (s *State) mapLocked(vbase hostarch.Addr, f frame.Frame) error {
	if err := s.pt.Arch().CheckMapping(vbase, f, s.pt.Bounds()); err != nil {
		panic(fmt.Sprintf("mmu.Map(%v): %v", vbase, err))
	}
	if o, ok := s.physOverlap(f); ok {
		return pterr.Conflictf("frame %v overlaps %v", f, o)
	}
	if err := s.pt.Map(vbase, f); err != nil {
		return err
	}
	s.owners.ReplaceOrInsert(frame.Mapping{VBase: vbase, Frame: f})
	return nil
}

// Unmap removes the mapping based exactly at vbase and evicts every cached
// translation for its range.
func (s *State) Unmap(vbase hostarch.Addr) (frame.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.pt.Unmap(vbase)
	opsMetric.Increment("unmap", resultOf(err))
	if err != nil {
		return frame.Mapping{}, err
	}
	s.owners.Delete(m)
	if n := s.tlb.EvictRange(m.Range()); n > 0 {
		tlbMetric.IncrementBy(uint64(n), "evict")
		log.Debugf("mmu: evicted %d translations for %v", n, m)
	}
	return m, nil
}

// Query returns the mapping covering vaddr, as found by walking the page
// tables.
func (s *State) Query(vaddr hostarch.Addr) (frame.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.pt.Query(vaddr)
	opsMetric.Increment("query", resultOf(err))
	return m, err
}

// FillTLB performs a hardware refill of the translation for vaddr.
func (s *State) FillTLB(vaddr hostarch.Addr) (frame.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillLocked(vaddr)
}

// EvictTLB drops the cached translation based at vbase. It has no effect
// on the mappings.
func (s *State) EvictTLB(vbase hostarch.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tlb.Evict(vbase) {
		return false
	}
	tlbMetric.Increment("evict")
	return true
}

// TLBEntries returns the cached translations in address order.
func (s *State) TLBEntries() []frame.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlb.Entries()
}

// Interpret returns the mappings held by the page tables, in address order.
func (s *State) Interpret() []frame.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pt.Mappings()
}

// View returns the page tables as a tree.
func (s *State) View() pttree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pt.View()
}

// CheckInvariants verifies that every cached translation agrees with the
// page tables, that the interpreted mappings are aligned, inside physical
// memory and pairwise disjoint, and that the physical index matches them.
func (s *State) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.pt.Mappings()
	for _, m := range ms {
		if err := s.pt.Arch().CheckMapping(m.VBase, m.Frame, s.pt.Bounds()); err != nil {
			return fmt.Errorf("mapping %v: %w", m, err)
		}
	}
	if err := frame.CheckOverlap(ms); err != nil {
		return err
	}
	for _, c := range s.tlb.Entries() {
		m, err := s.pt.Query(c.VBase)
		if err != nil || m != c {
			return fmt.Errorf("cached translation %v not in page tables (found %v, %v)", c, m, err)
		}
	}
	if s.owners.Len() != len(ms) {
		return fmt.Errorf("physical index has %d mappings, page tables have %d", s.owners.Len(), len(ms))
	}
	for _, m := range ms {
		if o, ok := s.owners.Get(m); !ok || o != m {
			return fmt.Errorf("mapping %v missing from physical index", m)
		}
	}
	return nil
}

// Close unmaps everything and releases all page tables except the root.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pt.Release()
	s.owners.Clear(false)
	s.tlb.Flush()
}

// Release returns host resources held by physical memory. The State must
// not be used afterwards.
func (s *State) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.mem.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
