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

// Package ptpath converts between virtual addresses and page table paths.
//
// A path is the sequence of table indices followed from the root down to
// some level. A path of length n names a slot at level n-1, and hence an
// aligned virtual region of FrameSize(n-1) bytes. Paths that are not
// prefixes of one another name disjoint regions, and lexicographic order on
// paths matches numeric order on the regions they name.
package ptpath

import (
	"fmt"
	"strings"

	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// Path is a sequence of per-level table indices, starting at the root.
type Path []int

// FromAddress returns the path of length level+1 leading to the slot that
// maps vaddr at level.
func FromAddress(a *frame.Arch, vaddr hostarch.Addr, level int) Path {
	if level < 0 || level >= a.LevelCount() {
		panic(fmt.Sprintf("level %d out of range for %s", level, a.Name))
	}
	p := make(Path, level+1)
	for i := range p {
		p[i] = a.IndexOf(vaddr, i)
	}
	return p
}

// ToAddress returns the base address of the region named by p.
func (p Path) ToAddress(a *frame.Arch) hostarch.Addr {
	var vaddr hostarch.Addr
	for i, idx := range p {
		vaddr += hostarch.Addr(idx) * hostarch.Addr(a.FrameSize(i))
	}
	return vaddr
}

// Level returns the level of the slot named by p.
func (p Path) Level() int {
	return len(p) - 1
}

// Range returns the virtual range named by p. p must not be empty.
func (p Path) Range(a *frame.Arch) hostarch.AddrRange {
	start := p.ToAddress(a)
	return hostarch.AddrRange{Start: start, End: start + hostarch.Addr(a.FrameSize(p.Level()))}
}

// Valid returns true if p has between 1 and LevelCount indices and each is
// within its level's entry count.
func (p Path) Valid(a *frame.Arch) bool {
	if len(p) == 0 || len(p) > a.LevelCount() {
		return false
	}
	for i, idx := range p {
		if idx < 0 || idx >= a.EntryCount(i) {
			return false
		}
	}
	return true
}

// Step returns the first index and the remainder of p.
func (p Path) Step() (int, Path) {
	return p[0], p[1:]
}

// Trim returns the first n indices of p.
func (p Path) Trim(n int) Path {
	return p[:n]
}

// HasPrefix returns true if q is a prefix of p.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Equal returns true if p and q are identical.
func (p Path) Equal(q Path) bool {
	return len(p) == len(q) && p.HasPrefix(q)
}

// Append returns a new path with idx appended to p. p is not modified.
func (p Path) Append(idx int) Path {
	q := make(Path, len(p)+1)
	copy(q, p)
	q[len(p)] = idx
	return q
}

// FirstDiff returns the first position at which a and b differ, or the
// length of the shorter path if one is a prefix of the other.
func FirstDiff(a, b Path) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Compare orders paths lexicographically, with a prefix ordered before its
// extensions. It returns -1, 0 or 1.
func Compare(a, b Path) int {
	i := FirstDiff(a, b)
	switch {
	case i < len(a) && i < len(b):
		if a[i] < b[i] {
			return -1
		}
		return 1
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// String implements fmt.Stringer.String.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, idx := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", idx)
	}
	b.WriteByte(']')
	return b.String()
}
