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

// Package pagetables implements page tables over raw table memory.
//
// Entries are stored as machine words in tables handed out by a Memory, and
// are interpreted by a pluggable EntryCodec. The tables are observably
// equivalent to the tree model in package pttree; View returns that model.
//
// PageTables is not synchronized. Callers must serialize all operations on
// one instance.
package pagetables

import (
	"fmt"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/ptpath"
)

// Entry is a decoded table entry.
type Entry struct {
	// Valid is false for empty entries; the other fields are then
	// meaningless.
	Valid bool

	// Leaf is true if the entry maps a frame, and false if it points to a
	// table at the next level.
	Leaf bool

	// Addr is the frame base for leaves and the table base otherwise.
	Addr hostarch.PhysAddr

	// Attr are the frame attributes. They are only meaningful for leaves.
	Attr frame.Attr
}

// TableEntry returns a valid entry pointing to the table at base.
func TableEntry(base hostarch.PhysAddr) Entry {
	return Entry{Valid: true, Addr: base}
}

// LeafEntry returns a valid entry mapping f.
func LeafEntry(f frame.Frame) Entry {
	return Entry{Valid: true, Leaf: true, Addr: f.Base, Attr: f.Attr}
}

// EntryCodec converts entries to and from machine words.
//
// Decode(Encode(e, last), last) must return e for every valid e that the
// codec accepts, and Decode(Empty(), last) must not be valid.
type EntryCodec interface {
	// Name identifies the codec.
	Name() string

	// Decode decodes a raw entry. last is true for entries in last level
	// tables.
	Decode(raw uint64, last bool) Entry

	// Encode encodes e. Table entries may not be encoded at the last
	// level.
	Encode(e Entry, last bool) uint64

	// Empty returns the encoding of an empty entry.
	Empty() uint64
}

// Memory is the store holding the tables.
//
// Every table the page tables reference was returned by AllocTable (or is
// the root), and is addressable with Read and Write for indices below the
// entry count of its level.
type Memory interface {
	// Root returns the base of the root table.
	Root() hostarch.PhysAddr

	// Read returns the word at the given index of the table at base.
	Read(base hostarch.PhysAddr, index int) uint64

	// Write stores a word at the given index of the table at base.
	Write(base hostarch.PhysAddr, index int, v uint64)

	// AllocTable returns a new table for the given level. Its contents are
	// unspecified.
	AllocTable(level int) (hostarch.PhysAddr, error)

	// FreeTable releases a table returned by AllocTable.
	FreeTable(base hostarch.PhysAddr)
}

// PageTables is a set of page tables.
type PageTables struct {
	arch   *frame.Arch
	bounds frame.Bounds
	codec  EntryCodec
	mem    Memory

	// root is the base of the root table.
	root hostarch.PhysAddr
}

// New returns empty PageTables. The root table of mem is cleared.
func New(a *frame.Arch, bounds frame.Bounds, codec EntryCodec, mem Memory) *PageTables {
	if err := a.Validate(); err != nil {
		panic(err)
	}
	p := &PageTables{
		arch:   a,
		bounds: bounds,
		codec:  codec,
		mem:    mem,
		root:   mem.Root(),
	}
	p.clearTable(p.root, 0)
	return p
}

// Arch returns the geometry of the tables.
func (p *PageTables) Arch() *frame.Arch {
	return p.arch
}

// Bounds returns the physical bounds of mappable frames.
func (p *PageTables) Bounds() frame.Bounds {
	return p.bounds
}

// Codec returns the entry codec.
func (p *PageTables) Codec() EntryCodec {
	return p.codec
}

func (p *PageTables) isLast(level int) bool {
	return level == p.arch.LastLevel()
}

// entry decodes the entry at index of the table at base.
func (p *PageTables) entry(base hostarch.PhysAddr, index, level int) Entry {
	return p.codec.Decode(p.mem.Read(base, index), p.isLast(level))
}

// setEntry encodes and stores an entry.
func (p *PageTables) setEntry(base hostarch.PhysAddr, index, level int, e Entry) {
	p.mem.Write(base, index, p.codec.Encode(e, p.isLast(level)))
}

// clearEntry stores an empty entry.
func (p *PageTables) clearEntry(base hostarch.PhysAddr, index int) {
	p.mem.Write(base, index, p.codec.Empty())
}

// clearTable empties every entry of the table at base.
func (p *PageTables) clearTable(base hostarch.PhysAddr, level int) {
	for i := 0; i < p.arch.EntryCount(level); i++ {
		p.clearEntry(base, i)
	}
}

// allocTable allocates and clears a table for level.
func (p *PageTables) allocTable(level int) (hostarch.PhysAddr, error) {
	base, err := p.mem.AllocTable(level)
	if err != nil {
		return 0, err
	}
	p.clearTable(base, level)
	return base, nil
}

func (p *PageTables) checkPath(path ptpath.Path) {
	if !path.Valid(p.arch) {
		panic(fmt.Sprintf("invalid path %v for %s", path, p.arch.Name))
	}
}

// Walk follows path from the root and returns the entries seen. It stops at
// the first invalid or leaf entry, so the result has between 1 and
// len(path) entries.
func (p *PageTables) Walk(path ptpath.Path) []Entry {
	p.checkPath(path)
	var entries []Entry
	base := p.root
	for level, idx := range path {
		e := p.entry(base, idx, level)
		entries = append(entries, e)
		if !e.Valid || e.Leaf {
			break
		}
		base = e.Addr
	}
	return entries
}

// Insert installs a leaf for f at the slot named by path, allocating tables
// for invalid entries above it. f.Size must be the frame size of the slot's
// level.
//
// Insert fails with a Conflict if the slot is valid or a leaf lies above it.
// If a table cannot be allocated, the allocator's error is returned. In both
// cases the tables are left unchanged.
func (p *PageTables) Insert(path ptpath.Path, f frame.Frame) error {
	p.checkPath(path)
	target := path.Level()
	if want := p.arch.FrameSize(target); f.Size != want {
		panic(fmt.Sprintf("frame size %v at level %d, wanted %v", f.Size, target, want))
	}

	var (
		allocated []hostarch.PhysAddr
		linked    bool
		linkBase  hostarch.PhysAddr
		linkIndex int
	)
	rollback := func() {
		if linked {
			p.clearEntry(linkBase, linkIndex)
		}
		for _, base := range allocated {
			p.mem.FreeTable(base)
		}
	}

	base := p.root
	for level, idx := range path {
		e := p.entry(base, idx, level)
		if level == target {
			if e.Valid {
				rollback()
				return pterr.Conflictf("slot %d at level %d is occupied", idx, level)
			}
			p.setEntry(base, idx, level, LeafEntry(f))
			return nil
		}
		switch {
		case !e.Valid:
			next, err := p.allocTable(level + 1)
			if err != nil {
				rollback()
				return fmt.Errorf("allocating level %d table: %w", level+1, err)
			}
			allocated = append(allocated, next)
			p.setEntry(base, idx, level, TableEntry(next))
			if !linked {
				linked, linkBase, linkIndex = true, base, idx
			}
			base = next
		case e.Leaf:
			rollback()
			return pterr.Conflictf("slot %d at level %d blocked by frame at %v", idx, level, e.Addr)
		default:
			base = e.Addr
		}
	}
	panic("unreachable")
}

// Remove clears the leaf at the slot named by path. Tables left empty are
// kept.
//
// Remove fails with NotMapped, leaving the tables unchanged, if the slot is
// not a leaf or an entry above it is not a table.
func (p *PageTables) Remove(path ptpath.Path) error {
	p.checkPath(path)
	base := p.root
	for level, idx := range path {
		e := p.entry(base, idx, level)
		if level == path.Level() {
			if !e.Valid || !e.Leaf {
				return pterr.NotMappedf("slot %d at level %d holds no frame", idx, level)
			}
			p.clearEntry(base, idx)
			return nil
		}
		if !e.Valid || e.Leaf {
			return pterr.NotMappedf("slot %d at level %d holds no table", idx, level)
		}
		base = e.Addr
	}
	panic("unreachable")
}

// lookup walks to the last level along vaddr's path and returns the path
// actually walked and the final entry.
func (p *PageTables) lookup(vaddr hostarch.Addr) (ptpath.Path, Entry) {
	path := ptpath.FromAddress(p.arch, vaddr, p.arch.LastLevel())
	entries := p.Walk(path)
	return path.Trim(len(entries)), entries[len(entries)-1]
}

// Query returns the mapping covering vaddr. The virtual base is rebuilt
// from the walked path.
func (p *PageTables) Query(vaddr hostarch.Addr) (frame.Mapping, error) {
	if !p.arch.InSpan(vaddr) {
		return frame.Mapping{}, pterr.NotMappedf("address %v outside span", vaddr)
	}
	path, e := p.lookup(vaddr)
	if !e.Valid || !e.Leaf {
		return frame.Mapping{}, pterr.NotMappedf("address %v not mapped", vaddr)
	}
	return frame.Mapping{
		VBase: path.ToAddress(p.arch),
		Frame: frame.Frame{Base: e.Addr, Size: p.arch.FrameSize(path.Level()), Attr: e.Attr},
	}, nil
}

// Map installs a mapping of f at vbase.
//
// Precondition: vbase and f satisfy frame.Arch.CheckMapping.
//
// Map fails with a Conflict if the virtual range is occupied. A table in
// the target slot with no mappings below it is freed first. Map does not
// check for physical overlap with other mappings.
func (p *PageTables) Map(vbase hostarch.Addr, f frame.Frame) error {
	if err := p.arch.CheckMapping(vbase, f, p.bounds); err != nil {
		panic(fmt.Sprintf("pagetables.Map(%v): %v", vbase, err))
	}
	level, _ := p.arch.LevelOfFrameSize(f.Size)
	path := ptpath.FromAddress(p.arch, vbase, level)
	p.reclaim(vbase, path)
	if err := p.Insert(path, f); err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("pagetables: mapped %v -> %v", vbase, f)
	}
	return nil
}

// reclaim frees the table in the slot named by path if nothing is mapped
// below it.
func (p *PageTables) reclaim(vbase hostarch.Addr, path ptpath.Path) {
	entries := p.Walk(path)
	if len(entries) != len(path) {
		return
	}
	if e := entries[len(entries)-1]; !e.Valid || e.Leaf {
		return
	}
	r := path.Range(p.arch)
	if p.hasLeaves(r) {
		return
	}
	p.releaseRange(r)
	log.Debugf("pagetables: reclaimed empty tables under %v", vbase)
}

// Unmap removes the mapping based exactly at vbase, at whichever level it is
// found, and returns it.
func (p *PageTables) Unmap(vbase hostarch.Addr) (frame.Mapping, error) {
	if !p.arch.InSpan(vbase) {
		return frame.Mapping{}, pterr.NotMappedf("address %v outside span", vbase)
	}
	path, e := p.lookup(vbase)
	size := uint64(p.arch.FrameSize(path.Level()))
	if !e.Valid || !e.Leaf || !vbase.IsAligned(size) {
		return frame.Mapping{}, pterr.NotMappedf("no mapping based at %v", vbase)
	}
	if err := p.Remove(path); err != nil {
		return frame.Mapping{}, err
	}
	m := frame.Mapping{
		VBase: vbase,
		Frame: frame.Frame{Base: e.Addr, Size: frame.Size(size), Attr: e.Attr},
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("pagetables: unmapped %v", m)
	}
	return m, nil
}

// Release frees every table except the root, leaving the tables empty.
func (p *PageTables) Release() {
	p.releaseRange(hostarch.AddrRange{Start: 0, End: hostarch.Addr(p.arch.Span())})
	p.clearTable(p.root, 0)
}
