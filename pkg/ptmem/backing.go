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

// Package ptmem provides word-addressable memory: backing stores for
// physical memory, and a table allocator implementing pagetables.Memory.
package ptmem

import (
	"fmt"

	"gvisor.dev/pagetree/pkg/hostarch"
)

// Backing is a fixed-size array of words, initially zero.
type Backing interface {
	// Load returns the word at i. i must be below Words().
	Load(i hostarch.PIdx) uint64

	// Store sets the word at i. i must be below Words().
	Store(i hostarch.PIdx, v uint64)

	// Words returns the number of words.
	Words() uint64
}

// Backing kinds accepted by NewBacking.
const (
	KindHeap   = "heap"
	KindSparse = "sparse"
	KindMapped = "mmap"
)

// NewBacking returns a backing of the given kind holding words words.
func NewBacking(kind string, words uint64) (Backing, error) {
	switch kind {
	case KindHeap:
		return NewHeap(words), nil
	case KindSparse:
		return NewSparse(words), nil
	case KindMapped:
		m, err := NewMapped(words)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown backing kind %q", kind)
	}
}

// Heap is a Backing held in a Go slice.
type Heap struct {
	words []uint64
}

// NewHeap returns a zeroed Heap of the given size.
func NewHeap(words uint64) *Heap {
	return &Heap{words: make([]uint64, words)}
}

// Load implements Backing.Load.
func (h *Heap) Load(i hostarch.PIdx) uint64 {
	return h.words[i]
}

// Store implements Backing.Store.
func (h *Heap) Store(i hostarch.PIdx, v uint64) {
	h.words[i] = v
}

// Words implements Backing.Words.
func (h *Heap) Words() uint64 {
	return uint64(len(h.words))
}

// Sparse is a Backing that only stores non-zero words, for large memories
// that are mostly untouched.
type Sparse struct {
	size  uint64
	words map[hostarch.PIdx]uint64
}

// NewSparse returns a zeroed Sparse of the given size.
func NewSparse(words uint64) *Sparse {
	return &Sparse{
		size:  words,
		words: make(map[hostarch.PIdx]uint64),
	}
}

func (s *Sparse) check(i hostarch.PIdx) {
	if uint64(i) >= s.size {
		panic(fmt.Sprintf("word %#x out of range [0, %#x)", uint64(i), s.size))
	}
}

// Load implements Backing.Load.
func (s *Sparse) Load(i hostarch.PIdx) uint64 {
	s.check(i)
	return s.words[i]
}

// Store implements Backing.Store.
func (s *Sparse) Store(i hostarch.PIdx, v uint64) {
	s.check(i)
	if v == 0 {
		delete(s.words, i)
		return
	}
	s.words[i] = v
}

// Words implements Backing.Words.
func (s *Sparse) Words() uint64 {
	return s.size
}

// Populated returns the number of non-zero words.
func (s *Sparse) Populated() int {
	return len(s.words)
}
