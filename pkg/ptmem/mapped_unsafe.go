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

//go:build linux
// +build linux

package ptmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// Mapped is a Backing in anonymous memory outside the Go heap. Pages are
// only committed when first written.
type Mapped struct {
	mapping []byte
	words   []uint64
}

// NewMapped maps a zeroed region of the given size.
func NewMapped(words uint64) (*Mapped, error) {
	if words == 0 {
		return &Mapped{}, nil
	}
	length := words * hostarch.WordSize
	if length/hostarch.WordSize != words {
		return nil, fmt.Errorf("mapping of %d words overflows", words)
	}
	b, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mmap of %d bytes failed: %w", length, err)
	}
	return &Mapped{
		mapping: b,
		words:   unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), words),
	}, nil
}

// Load implements Backing.Load.
func (m *Mapped) Load(i hostarch.PIdx) uint64 {
	return m.words[i]
}

// Store implements Backing.Store.
func (m *Mapped) Store(i hostarch.PIdx, v uint64) {
	m.words[i] = v
}

// Words implements Backing.Words.
func (m *Mapped) Words() uint64 {
	return uint64(len(m.words))
}

// Close unmaps the region. The Mapped must not be used afterwards.
func (m *Mapped) Close() error {
	if m.mapping == nil {
		return nil
	}
	m.words = nil
	err := unix.Munmap(m.mapping)
	m.mapping = nil
	return err
}
