// Copyright 2019 The gVisor Authors.
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

// Bits in VMSAv8-64 stage 1 descriptors.
const (
	armValid = 1 << 0

	// armTable marks table descriptors above the last level and page
	// descriptors at the last level. Block descriptors leave it clear.
	armTable = 1 << 1

	armAttrIndxShift = 2
	armAttrIndxMask  = 0x7 << armAttrIndxShift
	armUser          = 1 << 6  // AP[1]
	armReadOnly      = 1 << 7  // AP[2]
	armInnerShare    = 3 << 8  // SH[1:0]
	armAccessFlag    = 1 << 10 // AF
	armNotGlobal     = 1 << 11 // nG
	armPXN           = 1 << 53
	armUXN           = 1 << 54
	armNoRead        = 1 << 55 // Reserved for software use.

	armAddressMask = 0x0000fffffffff000
)

// mairIndex is the MAIR attribute index used for each memory type.
var mairIndex = [hostarch.NumMemoryTypes]uint64{
	hostarch.MemoryTypeNormal: 0,
	hostarch.MemoryTypeDevice: 1,
}

// memoryTypeOf returns the memory type selected by the AttrIndx field of raw.
// Unknown indices are treated as normal memory.
func memoryTypeOf(raw uint64) hostarch.MemoryType {
	idx := (raw & armAttrIndxMask) >> armAttrIndxShift
	for mt, i := range mairIndex {
		if i == idx {
			return hostarch.MemoryType(mt)
		}
	}
	return hostarch.MemoryTypeNormal
}

// AArch64 encodes VMSAv8-64 stage 1 descriptors. Frames that are not
// executable are marked both UXN and PXN; device frames use MAIR index 1.
type AArch64 struct{}

// Name implements pagetables.EntryCodec.Name.
func (AArch64) Name() string {
	return "aarch64"
}

// Empty implements pagetables.EntryCodec.Empty.
func (AArch64) Empty() uint64 {
	return 0
}

// Decode implements pagetables.EntryCodec.Decode.
func (AArch64) Decode(raw uint64, last bool) pagetables.Entry {
	if raw&armValid == 0 {
		return pagetables.Entry{}
	}
	table := raw&armTable != 0
	if last && !table {
		// Reserved encoding at the last level.
		return pagetables.Entry{}
	}
	e := pagetables.Entry{
		Valid: true,
		Leaf:  last || !table,
		Addr:  hostarch.PhysAddr(raw & armAddressMask),
	}
	if e.Leaf {
		e.Attr = frame.Attr{
			Readable:       raw&armNoRead == 0,
			Writable:       raw&armReadOnly == 0,
			Executable:     raw&armUXN == 0,
			UserAccessible: raw&armUser != 0,
			Device:         memoryTypeOf(raw) == hostarch.MemoryTypeDevice,
		}
	}
	return e
}

// Encode implements pagetables.EntryCodec.Encode.
func (AArch64) Encode(e pagetables.Entry, last bool) uint64 {
	if !e.Valid {
		return 0
	}
	checkAddress("aarch64", e.Addr, armAddressMask)
	raw := uint64(e.Addr) | armValid
	if !e.Leaf {
		if last {
			panic("aarch64: table entry at last level")
		}
		return raw | armTable
	}
	if last {
		raw |= armTable
	}
	raw |= armAccessFlag
	mt := e.Attr.MemoryType()
	raw |= mairIndex[mt] << armAttrIndxShift
	if mt == hostarch.MemoryTypeNormal {
		raw |= armInnerShare
	}
	if e.Attr.UserAccessible {
		raw |= armUser | armNotGlobal
	}
	if !e.Attr.Writable {
		raw |= armReadOnly
	}
	if !e.Attr.Executable {
		raw |= armUXN | armPXN
	}
	if !e.Attr.Readable {
		raw |= armNoRead
	}
	return raw
}
