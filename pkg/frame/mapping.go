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

package frame

import (
	"fmt"
	"sort"

	"gvisor.dev/pagetree/pkg/hostarch"
)

// Mapping is a frame mapped at a virtual base address.
type Mapping struct {
	VBase hostarch.Addr
	Frame Frame
}

// Range returns the virtual range covered by m.
func (m Mapping) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: m.VBase, End: m.VBase + hostarch.Addr(m.Frame.Size)}
}

// Translate returns the physical address of vaddr, which must lie in
// m.Range().
func (m Mapping) Translate(vaddr hostarch.Addr) hostarch.PhysAddr {
	return m.Frame.Base + hostarch.PhysAddr(vaddr-m.VBase)
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("%v -> %v", m.VBase, m.Frame)
}

// CheckOverlap returns an error if any two mappings in ms overlap virtually
// or physically. ms must be sorted by VBase.
func CheckOverlap(ms []Mapping) error {
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Range().Overlaps(ms[i].Range()) {
			return fmt.Errorf("virtual overlap between %v and %v", ms[i-1], ms[i])
		}
	}
	byPhys := append([]Mapping(nil), ms...)
	sort.Slice(byPhys, func(i, j int) bool { return byPhys[i].Frame.Base < byPhys[j].Frame.Base })
	for i := 1; i < len(byPhys); i++ {
		if byPhys[i-1].Frame.Range().Overlaps(byPhys[i].Frame.Range()) {
			return fmt.Errorf("physical overlap between %v and %v", byPhys[i-1], byPhys[i])
		}
	}
	return nil
}
