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

package hostarch

import "fmt"

// AddrRange is a half-open range of virtual addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Contains returns true if r contains x.
func (r AddrRange) Contains(x Addr) bool {
	return r.Start <= x && x < r.End
}

// Overlaps returns true if r and r2 overlap. Empty ranges overlap nothing.
func (r AddrRange) Overlaps(r2 AddrRange) bool {
	return r.Start < r.End && r2.Start < r2.End && r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r is a superset of r2.
func (r AddrRange) IsSupersetOf(r2 AddrRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// String implements fmt.Stringer.String.
func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// PhysRange is a half-open range of physical addresses [Start, End).
type PhysRange struct {
	Start PhysAddr
	End   PhysAddr
}

// Contains returns true if r contains x.
func (r PhysRange) Contains(x PhysAddr) bool {
	return r.Start <= x && x < r.End
}

// Overlaps returns true if r and r2 overlap. Empty ranges overlap nothing.
func (r PhysRange) Overlaps(r2 PhysRange) bool {
	return r.Start < r.End && r2.Start < r2.End && r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r is a superset of r2.
func (r PhysRange) IsSupersetOf(r2 PhysRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// String implements fmt.Stringer.String.
func (r PhysRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
