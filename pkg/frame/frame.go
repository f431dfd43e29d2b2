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

// Package frame describes physical frames and the page table geometries that
// map them.
package frame

import (
	"fmt"
	"strings"

	"gvisor.dev/pagetree/pkg/hostarch"
)

// Size is the size of a frame in bytes.
type Size uint64

// Supported frame sizes.
const (
	Size4K   Size = 1 << 12
	Size16K  Size = 1 << 14
	Size2M   Size = 1 << 21
	Size32M  Size = 1 << 25
	Size1G   Size = 1 << 30
	Size64G  Size = 1 << 36
	Size512G Size = 1 << 39
)

// String implements fmt.Stringer.String.
func (s Size) String() string {
	switch s {
	case Size4K:
		return "4K"
	case Size16K:
		return "16K"
	case Size2M:
		return "2M"
	case Size32M:
		return "32M"
	case Size1G:
		return "1G"
	case Size64G:
		return "64G"
	case Size512G:
		return "512G"
	default:
		return fmt.Sprintf("%#x", uint64(s))
	}
}

// ParseSize parses the String form of a supported size, such as "2M".
func ParseSize(s string) (Size, error) {
	for _, size := range []Size{Size4K, Size16K, Size2M, Size32M, Size1G, Size64G, Size512G} {
		if strings.EqualFold(s, size.String()) {
			return size, nil
		}
	}
	return 0, fmt.Errorf("unknown frame size %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(b []byte) error {
	size, err := ParseSize(string(b))
	if err != nil {
		return err
	}
	*s = size
	return nil
}

// Attr are the access attributes of a frame.
type Attr struct {
	Readable       bool
	Writable       bool
	Executable     bool
	UserAccessible bool
	Device         bool
}

// MemoryType returns the memory type implied by a.
func (a Attr) MemoryType() hostarch.MemoryType {
	if a.Device {
		return hostarch.MemoryTypeDevice
	}
	return hostarch.MemoryTypeNormal
}

// String returns a compact "rwxud" form, with '-' for unset attributes.
func (a Attr) String() string {
	var b strings.Builder
	for _, f := range []struct {
		set bool
		c   byte
	}{
		{a.Readable, 'r'},
		{a.Writable, 'w'},
		{a.Executable, 'x'},
		{a.UserAccessible, 'u'},
		{a.Device, 'd'},
	} {
		if f.set {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseAttr parses attributes written as any subset of the letters "rwxud"
// in order, with '-' for unset attributes. "rw-u-" and "rwu" are the same.
func ParseAttr(s string) (Attr, error) {
	var a Attr
	fields := []*bool{&a.Readable, &a.Writable, &a.Executable, &a.UserAccessible, &a.Device}
	next := 0
	for _, c := range s {
		if c == '-' {
			continue
		}
		i := strings.IndexRune("rwxud", c)
		if i < next {
			return Attr{}, fmt.Errorf("invalid attributes %q", s)
		}
		*fields[i] = true
		next = i + 1
	}
	return a, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Attr) UnmarshalText(b []byte) error {
	attr, err := ParseAttr(string(b))
	if err != nil {
		return err
	}
	*a = attr
	return nil
}

// Frame is a physical memory region of one size class.
type Frame struct {
	Base hostarch.PhysAddr
	Size Size
	Attr Attr
}

// Range returns the physical range covered by f.
func (f Frame) Range() hostarch.PhysRange {
	return hostarch.PhysRange{Start: f.Base, End: f.Base + hostarch.PhysAddr(f.Size)}
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("{%v %v %v}", f.Base, f.Size, f.Attr)
}

// Bounds is the configured window of physical memory, [Lower, Upper).
type Bounds struct {
	Lower hostarch.PhysAddr
	Upper hostarch.PhysAddr
}

// Contains returns true if r lies entirely within b.
func (b Bounds) Contains(r hostarch.PhysRange) bool {
	return r.Start >= b.Lower && r.End <= b.Upper && r.Start <= r.End
}

// Fits returns true if f lies entirely within b, taking overflow of the
// frame's end into account.
func (b Bounds) Fits(f Frame) bool {
	r, ok := f.Base.ToRange(uint64(f.Size))
	return ok && b.Contains(r)
}

// String implements fmt.Stringer.String.
func (b Bounds) String() string {
	return hostarch.PhysRange{Start: b.Lower, End: b.Upper}.String()
}
