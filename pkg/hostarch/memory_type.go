// Copyright 2021 The gVisor Authors.
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

package hostarch

import "fmt"

// MemoryType specifies how a mapped frame is accessed by the CPU.
type MemoryType uint8

const (
	// MemoryTypeNormal is ordinary cacheable memory:
	//
	// - x86: Write-back (WB)
	//
	// - ARM64: Normal write-back cacheable (MAIR index 0)
	//
	// It must be the zero value for MemoryType.
	MemoryTypeNormal MemoryType = iota

	// MemoryTypeDevice is memory-mapped I/O:
	//
	// - x86: Strong Uncacheable (UC), encoded as PCD|PWT
	//
	// - ARM64: Device-nGnRnE (MAIR index 1)
	MemoryTypeDevice

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeNormal:
		return "Normal"
	case MemoryTypeDevice:
		return "Device"
	default:
		return fmt.Sprintf("%d", mt)
	}
}
