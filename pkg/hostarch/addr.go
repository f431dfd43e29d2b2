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

// Package hostarch contains address and word arithmetic shared by the page
// table packages.
package hostarch

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// WordSize is the size of a memory word in bytes.
const WordSize = 8

// Addr is a virtual address.
type Addr uint64

// PhysAddr is a physical address.
type PhysAddr uint64

// VIdx is the index of a word in virtual memory (Addr / WordSize).
type VIdx uint64

// PIdx is the index of a word in physical memory (PhysAddr / WordSize).
type PIdx uint64

// RoundDown rounds x down to a multiple of align, which must be a power of
// two.
func RoundDown[T constraints.Unsigned](x, align T) T {
	return x &^ (align - 1)
}

// RoundUp rounds x up to a multiple of align, which must be a power of two.
// ok is false if rounding wrapped around.
func RoundUp[T constraints.Unsigned](x, align T) (r T, ok bool) {
	r = RoundDown(x+align-1, align)
	return r, r >= x
}

// IsAligned returns true if x is a multiple of align, which must be a power
// of two.
func IsAligned[T constraints.Unsigned](x, align T) bool {
	return x&(align-1) == 0
}

// IsPowerOfTwo returns true if x is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](x T) bool {
	return x != 0 && x&(x-1) == 0
}

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uint64(v) +
	// length overflows.
	ok = end >= v && uint64(end) >= length
	return
}

// RoundDown returns the address rounded down to a multiple of size.
func (v Addr) RoundDown(size uint64) Addr {
	return RoundDown(v, Addr(size))
}

// IsAligned returns true if v is a multiple of size.
func (v Addr) IsAligned(size uint64) bool {
	return IsAligned(v, Addr(size))
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// WordIndex returns the index of the word containing v.
func (v Addr) WordIndex() VIdx {
	return VIdx(v / WordSize)
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow.
func (p PhysAddr) AddLength(length uint64) (end PhysAddr, ok bool) {
	end = p + PhysAddr(length)
	ok = end >= p && uint64(end) >= length
	return
}

// RoundDown returns the address rounded down to a multiple of size.
func (p PhysAddr) RoundDown(size uint64) PhysAddr {
	return RoundDown(p, PhysAddr(size))
}

// IsAligned returns true if p is a multiple of size.
func (p PhysAddr) IsAligned(size uint64) bool {
	return IsAligned(p, PhysAddr(size))
}

// ToRange returns [p, p+length).
func (p PhysAddr) ToRange(length uint64) (PhysRange, bool) {
	end, ok := p.AddLength(length)
	return PhysRange{p, end}, ok
}

// WordIndex returns the index of the word containing p.
func (p PhysAddr) WordIndex() PIdx {
	return PIdx(p / WordSize)
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// Addr returns the address of the first byte of the word.
func (i VIdx) Addr() Addr {
	return Addr(i * WordSize)
}

// Addr returns the address of the first byte of the word.
func (i PIdx) Addr() PhysAddr {
	return PhysAddr(i * WordSize)
}
