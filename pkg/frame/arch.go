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
	"fmt"
	"sort"

	"gvisor.dev/pagetree/pkg/hostarch"
)

// Level describes one level of a page table hierarchy.
type Level struct {
	// Entries is the number of entries in a table at this level.
	Entries int

	// FrameSize is the size of the frame mapped by a leaf at this level,
	// which is also the span of one entry.
	FrameSize Size
}

// Arch is a page table geometry. Level 0 is the root. An Arch must not be
// modified once a page table uses it.
type Arch struct {
	Name   string
	Levels []Level
}

// The supported geometries.
var (
	// VMSAv8With4K is the ARMv8 4KiB granule, 48-bit translation.
	VMSAv8With4K = &Arch{
		Name: "vmsav8-4k",
		Levels: []Level{
			{Entries: 512, FrameSize: Size512G},
			{Entries: 512, FrameSize: Size1G},
			{Entries: 512, FrameSize: Size2M},
			{Entries: 512, FrameSize: Size4K},
		},
	}

	// VMSAv8With16K is the ARMv8 16KiB granule, 47-bit translation.
	VMSAv8With16K = &Arch{
		Name: "vmsav8-16k",
		Levels: []Level{
			{Entries: 2048, FrameSize: Size64G},
			{Entries: 2048, FrameSize: Size32M},
			{Entries: 2048, FrameSize: Size16K},
		},
	}

	// X86With4Levels is x86-64 4-level paging.
	X86With4Levels = &Arch{
		Name: "x86-64",
		Levels: []Level{
			{Entries: 512, FrameSize: Size512G},
			{Entries: 512, FrameSize: Size1G},
			{Entries: 512, FrameSize: Size2M},
			{Entries: 512, FrameSize: Size4K},
		},
	}
)

var arches = map[string]*Arch{
	VMSAv8With4K.Name:   VMSAv8With4K,
	VMSAv8With16K.Name:  VMSAv8With16K,
	X86With4Levels.Name: X86With4Levels,
}

// Lookup returns the predefined Arch with the given name.
func Lookup(name string) (*Arch, bool) {
	a, ok := arches[name]
	return a, ok
}

// Names returns the names of all predefined geometries, sorted.
func Names() []string {
	names := make([]string, 0, len(arches))
	for name := range arches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that a is a well-formed geometry: at least one level, a
// power of two frame size per level, and each level's frame size equal to
// the span of a full table at the next level.
func (a *Arch) Validate() error {
	if len(a.Levels) == 0 {
		return fmt.Errorf("arch %q has no levels", a.Name)
	}
	for i, l := range a.Levels {
		if l.Entries <= 0 {
			return fmt.Errorf("arch %q level %d: invalid entry count %d", a.Name, i, l.Entries)
		}
		if !hostarch.IsPowerOfTwo(uint64(l.FrameSize)) || l.FrameSize < hostarch.WordSize {
			return fmt.Errorf("arch %q level %d: invalid frame size %v", a.Name, i, l.FrameSize)
		}
		if i+1 < len(a.Levels) {
			next := a.Levels[i+1]
			if uint64(next.FrameSize)*uint64(next.Entries) != uint64(l.FrameSize) {
				return fmt.Errorf("arch %q level %d: frame size %v does not match %d entries of %v", a.Name, i, l.FrameSize, next.Entries, next.FrameSize)
			}
		}
	}
	if span := uint64(a.Levels[0].FrameSize) * uint64(a.Levels[0].Entries); span/uint64(a.Levels[0].Entries) != uint64(a.Levels[0].FrameSize) {
		return fmt.Errorf("arch %q: address span overflows", a.Name)
	}
	return nil
}

// LevelCount returns the number of levels.
func (a *Arch) LevelCount() int {
	return len(a.Levels)
}

// LastLevel returns the index of the deepest level.
func (a *Arch) LastLevel() int {
	return len(a.Levels) - 1
}

// EntryCount returns the number of entries in a table at level.
func (a *Arch) EntryCount(level int) int {
	return a.Levels[level].Entries
}

// FrameSize returns the frame size of a leaf at level.
func (a *Arch) FrameSize(level int) Size {
	return a.Levels[level].FrameSize
}

// LevelOfFrameSize returns the level whose leaves have the given size.
func (a *Arch) LevelOfFrameSize(size Size) (int, bool) {
	for i, l := range a.Levels {
		if l.FrameSize == size {
			return i, true
		}
	}
	return 0, false
}

// Supports returns true if size is the frame size of some level.
func (a *Arch) Supports(size Size) bool {
	_, ok := a.LevelOfFrameSize(size)
	return ok
}

// IndexOf returns the index into a level's table selected by vaddr.
func (a *Arch) IndexOf(vaddr hostarch.Addr, level int) int {
	l := a.Levels[level]
	return int((uint64(vaddr) / uint64(l.FrameSize)) % uint64(l.Entries))
}

// Span returns the size of the virtual address space covered by the root.
func (a *Arch) Span() uint64 {
	return uint64(a.Levels[0].FrameSize) * uint64(a.Levels[0].Entries)
}

// InSpan returns true if vaddr is covered by the root table.
func (a *Arch) InSpan(vaddr hostarch.Addr) bool {
	return uint64(vaddr) < a.Span()
}

// TableBytes returns the size in bytes of a table at level.
func (a *Arch) TableBytes(level int) uint64 {
	return uint64(a.Levels[level].Entries) * hostarch.WordSize
}

// MaxTableBytes returns the size in bytes of the largest table.
func (a *Arch) MaxTableBytes() uint64 {
	var m uint64
	for i := range a.Levels {
		m = max(m, a.TableBytes(i))
	}
	return m
}

// CheckMapping returns an error if mapping f at vbase would violate the
// preconditions of map: the size must be supported, both addresses aligned
// to it, the virtual range inside the address span and the frame inside
// bounds.
func (a *Arch) CheckMapping(vbase hostarch.Addr, f Frame, bounds Bounds) error {
	if !a.Supports(f.Size) {
		return fmt.Errorf("frame size %v not supported by %s", f.Size, a.Name)
	}
	if !vbase.IsAligned(uint64(f.Size)) {
		return fmt.Errorf("unaligned virtual base %v for frame size %v", vbase, f.Size)
	}
	if !f.Base.IsAligned(uint64(f.Size)) {
		return fmt.Errorf("unaligned physical base %v for frame size %v", f.Base, f.Size)
	}
	if r, ok := vbase.ToRange(uint64(f.Size)); !ok || uint64(r.End) > a.Span() {
		return fmt.Errorf("virtual range at %v outside address span %#x", vbase, a.Span())
	}
	if !bounds.Fits(f) {
		return fmt.Errorf("frame %v outside physical bounds %v", f, bounds)
	}
	return nil
}

// String implements fmt.Stringer.String.
func (a *Arch) String() string {
	return a.Name
}
