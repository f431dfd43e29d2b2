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

package pte

import (
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pagetables"
)

// Bits in x86 page table entries.
const (
	x86Present        = 0x001
	x86Writable       = 0x002
	x86User           = 0x004
	x86WriteThrough   = 0x008
	x86CacheDisable   = 0x010
	x86Accessed       = 0x020
	x86Dirty          = 0x040
	x86Super          = 0x080
	x86Global         = 0x100
	x86NoRead         = 0x200 // Available to software.
	x86ExecuteDisable = 1 << 63

	x86AddressMask = 0x000ffffffffff000
)

// X86 encodes x86-64 long mode entries. Super pages are marked with the PS
// bit above the last level, and device memory is mapped uncached.
type X86 struct{}

// Name implements pagetables.EntryCodec.Name.
func (X86) Name() string {
	return "x86"
}

// Empty implements pagetables.EntryCodec.Empty.
func (X86) Empty() uint64 {
	return 0
}

// Decode implements pagetables.EntryCodec.Decode.
func (X86) Decode(raw uint64, last bool) pagetables.Entry {
	if raw&x86Present == 0 {
		return pagetables.Entry{}
	}
	e := pagetables.Entry{
		Valid: true,
		Leaf:  last || raw&x86Super != 0,
		Addr:  hostarch.PhysAddr(raw & x86AddressMask),
	}
	if e.Leaf {
		e.Attr = frame.Attr{
			Readable:       raw&x86NoRead == 0,
			Writable:       raw&x86Writable != 0,
			Executable:     raw&x86ExecuteDisable == 0,
			UserAccessible: raw&x86User != 0,
			Device:         raw&x86CacheDisable != 0,
		}
	}
	return e
}

// Encode implements pagetables.EntryCodec.Encode.
func (X86) Encode(e pagetables.Entry, last bool) uint64 {
	if !e.Valid {
		return 0
	}
	checkAddress("x86", e.Addr, x86AddressMask)
	raw := uint64(e.Addr) | x86Present | x86Accessed
	if !e.Leaf {
		if last {
			panic("x86: table entry at last level")
		}
		// Permissions are enforced at the leaves.
		return raw | x86Writable | x86User
	}
	if !last {
		raw |= x86Super
	}
	if e.Attr.Writable {
		raw |= x86Writable | x86Dirty
	}
	if e.Attr.UserAccessible {
		raw |= x86User
	} else {
		raw |= x86Global
	}
	if !e.Attr.Executable {
		raw |= x86ExecuteDisable
	}
	if !e.Attr.Readable {
		raw |= x86NoRead
	}
	if e.Attr.Device {
		raw |= x86CacheDisable | x86WriteThrough
	}
	return raw
}
