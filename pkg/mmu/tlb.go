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
	"slices"

	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// TLB is a bounded translation cache keyed by virtual base. When full, the
// oldest entry is evicted to make room.
//
// TLB is not synchronized; State serializes access to it.
type TLB struct {
	capacity int

	// sizes are the frame sizes that can be cached, largest first.
	sizes []frame.Size

	entries map[hostarch.Addr]frame.Mapping

	// order holds the keys of entries, oldest first.
	order []hostarch.Addr
}

// NewTLB returns an empty TLB holding up to capacity entries of the frame
// sizes supported by a. A capacity of zero disables caching.
func NewTLB(a *frame.Arch, capacity int) *TLB {
	sizes := make([]frame.Size, 0, a.LevelCount())
	for i := range a.Levels {
		sizes = append(sizes, a.FrameSize(i))
	}
	return &TLB{
		capacity: capacity,
		sizes:    sizes,
		entries:  make(map[hostarch.Addr]frame.Mapping),
	}
}

// Capacity returns the maximum number of entries.
func (t *TLB) Capacity() int {
	return t.capacity
}

// Len returns the number of cached entries.
func (t *TLB) Len() int {
	return len(t.entries)
}

// Lookup returns the cached mapping covering vaddr.
func (t *TLB) Lookup(vaddr hostarch.Addr) (frame.Mapping, bool) {
	for _, s := range t.sizes {
		if m, ok := t.entries[vaddr.RoundDown(uint64(s))]; ok && m.Range().Contains(vaddr) {
			return m, true
		}
	}
	return frame.Mapping{}, false
}

// Fill caches m. If the TLB was full, the oldest entry is evicted and
// returned.
func (t *TLB) Fill(m frame.Mapping) (evicted frame.Mapping, ok bool) {
	if t.capacity == 0 {
		return frame.Mapping{}, false
	}
	if _, present := t.entries[m.VBase]; present {
		t.entries[m.VBase] = m
		return frame.Mapping{}, false
	}
	if len(t.entries) >= t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		evicted, ok = t.entries[oldest], true
		delete(t.entries, oldest)
	}
	t.entries[m.VBase] = m
	t.order = append(t.order, m.VBase)
	return evicted, ok
}

// Evict drops the entry based at vbase, returning true if there was one.
func (t *TLB) Evict(vbase hostarch.Addr) bool {
	if _, ok := t.entries[vbase]; !ok {
		return false
	}
	delete(t.entries, vbase)
	t.order = slices.DeleteFunc(t.order, func(a hostarch.Addr) bool { return a == vbase })
	return true
}

// EvictRange drops every entry overlapping ar and returns how many were
// dropped.
func (t *TLB) EvictRange(ar hostarch.AddrRange) int {
	n := 0
	for vbase, m := range t.entries {
		if m.Range().Overlaps(ar) {
			delete(t.entries, vbase)
			n++
		}
	}
	if n > 0 {
		t.order = slices.DeleteFunc(t.order, func(a hostarch.Addr) bool {
			_, ok := t.entries[a]
			return !ok
		})
	}
	return n
}

// Flush drops every entry.
func (t *TLB) Flush() {
	clear(t.entries)
	t.order = t.order[:0]
}

// Entries returns the cached mappings in address order.
func (t *TLB) Entries() []frame.Mapping {
	ms := make([]frame.Mapping, 0, len(t.entries))
	for _, m := range t.entries {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, func(a, b frame.Mapping) int {
		switch {
		case a.VBase < b.VBase:
			return -1
		case a.VBase > b.VBase:
			return 1
		}
		return 0
	})
	return ms
}
