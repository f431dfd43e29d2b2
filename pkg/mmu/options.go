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
	"fmt"

	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pagetables/pte"
	"gvisor.dev/pagetree/pkg/ptmem"
)

// Options selects the collaborators of a State by name.
type Options struct {
	// Arch names a frame.Arch.
	Arch string

	// Codec names a pte codec.
	Codec string

	// MemoryBytes is the size of physical memory. It must be a multiple of
	// the word size.
	MemoryBytes uint64

	// Backing names the ptmem backing kind used for both physical memory and
	// page table memory.
	Backing string

	// Tables is the number of page table slots, including the root.
	Tables int

	// TLBCapacity is the number of translation cache entries.
	TLBCapacity int
}

// NewFromOptions builds the collaborators named by opts and returns a State
// over them, along with the page table allocator. Page tables are placed
// directly above physical memory.
func NewFromOptions(opts Options) (*State, *ptmem.Tables, error) {
	a, ok := frame.Lookup(opts.Arch)
	if !ok {
		return nil, nil, fmt.Errorf("unknown architecture %q, want one of %v", opts.Arch, frame.Names())
	}
	codec, ok := pte.Lookup(opts.Codec)
	if !ok {
		return nil, nil, fmt.Errorf("unknown codec %q, want one of %v", opts.Codec, pte.Names())
	}
	if opts.MemoryBytes == 0 || !hostarch.IsAligned(opts.MemoryBytes, hostarch.WordSize) {
		return nil, nil, fmt.Errorf("invalid physical memory size %#x", opts.MemoryBytes)
	}
	mem, err := ptmem.NewBacking(opts.Backing, opts.MemoryBytes/hostarch.WordSize)
	if err != nil {
		return nil, nil, fmt.Errorf("physical memory: %w", err)
	}
	if opts.Tables < 1 {
		return nil, nil, fmt.Errorf("invalid table count %d", opts.Tables)
	}
	backing, err := ptmem.NewBacking(opts.Backing, ptmem.TableWords(a, opts.Tables))
	if err != nil {
		return nil, nil, fmt.Errorf("page table memory: %w", err)
	}
	base, ok := hostarch.RoundUp(hostarch.PhysAddr(opts.MemoryBytes), 0x1000)
	if !ok {
		return nil, nil, fmt.Errorf("physical memory size %#x too large", opts.MemoryBytes)
	}
	tables, err := ptmem.NewTables(a, base, opts.Tables, backing)
	if err != nil {
		return nil, nil, err
	}
	s, err := New(Config{
		Arch:        a,
		Codec:       codec,
		Tables:      tables,
		Memory:      mem,
		TLBCapacity: opts.TLBCapacity,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, tables, nil
}
