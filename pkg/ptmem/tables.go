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

package ptmem

import (
	"errors"
	"fmt"
	"io"

	"gvisor.dev/pagetree/pkg/bitmap"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// ErrExhausted is returned by AllocTable when every slot is in use.
var ErrExhausted = errors.New("page table memory exhausted")

// tableAlign is the minimum alignment of a table.
const tableAlign = 0x1000

// Tables hands out fixed-size table slots from a Backing. Slot i starts at
// physical address Base() plus i times the slot size. Slot 0 holds the root.
//
// Tables implements pagetables.Memory.
type Tables struct {
	arch    *frame.Arch
	backing Backing
	base    hostarch.PhysAddr

	// slotBytes is the size of a slot: the largest table, rounded up to
	// tableAlign.
	slotBytes uint64

	// inUse has a bit set for each allocated slot.
	inUse bitmap.Bitmap

	// levels records the level of each allocated table.
	levels map[hostarch.PhysAddr]int

	// next is where the search for a free slot starts.
	next uint32
}

// NewTables returns a table allocator for a, placing count slots at
// physical address base in backing. base must be aligned to 4K.
func NewTables(a *frame.Arch, base hostarch.PhysAddr, count int, backing Backing) (*Tables, error) {
	if !base.IsAligned(tableAlign) {
		return nil, fmt.Errorf("table base %v not aligned to %#x", base, tableAlign)
	}
	if count < 1 || uint64(count) > uint64(bitmap.MaxBitEntryLimit) {
		return nil, fmt.Errorf("invalid table count %d", count)
	}
	slotBytes := slotSize(a)
	if need := TableWords(a, count); need > backing.Words() {
		return nil, fmt.Errorf("%d tables need %d words, backing has %d", count, need, backing.Words())
	}
	t := &Tables{
		arch:      a,
		backing:   backing,
		base:      base,
		slotBytes: slotBytes,
		inUse:     bitmap.New(uint32(count)),
		levels:    make(map[hostarch.PhysAddr]int),
	}
	t.inUse.Add(0)
	t.levels[base] = 0
	return t, nil
}

func slotSize(a *frame.Arch) uint64 {
	n, _ := hostarch.RoundUp(a.MaxTableBytes(), tableAlign)
	return n
}

// TableWords returns the size of the backing NewTables needs for count
// slots of a.
func TableWords(a *frame.Arch, count int) uint64 {
	return uint64(count) * slotSize(a) / hostarch.WordSize
}

// Base returns the physical address of slot 0.
func (t *Tables) Base() hostarch.PhysAddr {
	return t.base
}

// Capacity returns the number of slots, including the root.
func (t *Tables) Capacity() int {
	return int(t.inUse.Size())
}

// InUse returns the number of allocated slots, including the root.
func (t *Tables) InUse() int {
	return int(t.inUse.GetNumOnes())
}

// Range returns the physical range holding all slots.
func (t *Tables) Range() hostarch.PhysRange {
	return hostarch.PhysRange{
		Start: t.base,
		End:   t.base + hostarch.PhysAddr(uint64(t.Capacity())*t.slotBytes),
	}
}

// Level returns the level of the allocated table at base.
func (t *Tables) Level(base hostarch.PhysAddr) (int, bool) {
	level, ok := t.levels[base]
	return level, ok
}

// Root implements pagetables.Memory.Root.
func (t *Tables) Root() hostarch.PhysAddr {
	return t.base
}

// slot returns the slot number of the table at base, panicking if base is
// not an allocated table.
func (t *Tables) slot(base hostarch.PhysAddr) uint32 {
	off := uint64(base - t.base)
	if base < t.base || off%t.slotBytes != 0 || !t.inUse.Contains(uint32(off/t.slotBytes)) {
		panic(fmt.Sprintf("%v is not an allocated table", base))
	}
	return uint32(off / t.slotBytes)
}

// word returns the backing index of entry index of the table at base.
func (t *Tables) word(base hostarch.PhysAddr, index int) hostarch.PIdx {
	t.slot(base)
	level := t.levels[base]
	if index < 0 || index >= t.arch.EntryCount(level) {
		panic(fmt.Sprintf("index %d out of range for level %d table at %v", index, level, base))
	}
	return hostarch.PIdx(uint64(base-t.base)/hostarch.WordSize + uint64(index))
}

// Read implements pagetables.Memory.Read.
func (t *Tables) Read(base hostarch.PhysAddr, index int) uint64 {
	return t.backing.Load(t.word(base, index))
}

// Write implements pagetables.Memory.Write.
func (t *Tables) Write(base hostarch.PhysAddr, index int, v uint64) {
	t.backing.Store(t.word(base, index), v)
}

// AllocTable implements pagetables.Memory.AllocTable.
func (t *Tables) AllocTable(level int) (hostarch.PhysAddr, error) {
	if level <= 0 || level >= t.arch.LevelCount() {
		panic(fmt.Sprintf("cannot allocate a level %d table", level))
	}
	s, err := t.inUse.FirstZero(t.next)
	if err != nil && t.next != 0 {
		s, err = t.inUse.FirstZero(0)
	}
	if err != nil {
		return 0, ErrExhausted
	}
	t.inUse.Add(s)
	t.next = (s + 1) % t.inUse.Size()
	base := t.base + hostarch.PhysAddr(uint64(s)*t.slotBytes)
	t.levels[base] = level
	return base, nil
}

// Close closes the backing if it holds host resources.
func (t *Tables) Close() error {
	if c, ok := t.backing.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FreeTable implements pagetables.Memory.FreeTable.
func (t *Tables) FreeTable(base hostarch.PhysAddr) {
	s := t.slot(base)
	if s == 0 {
		panic("cannot free the root table")
	}
	t.inUse.Remove(s)
	delete(t.levels, base)
}
