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

// Package pte contains page table entry codecs for real architectures.
package pte

import (
	"fmt"
	"sort"

	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pagetables"
)

var codecs = map[string]pagetables.EntryCodec{
	AArch64{}.Name(): AArch64{},
	X86{}.Name():     X86{},
}

// Lookup returns the codec with the given name.
func Lookup(name string) (pagetables.EntryCodec, bool) {
	c, ok := codecs[name]
	return c, ok
}

// Names returns the names of all codecs, sorted.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkAddress panics if addr cannot be represented under mask.
func checkAddress(codec string, addr hostarch.PhysAddr, mask uint64) {
	if uint64(addr)&^mask != 0 {
		panic(fmt.Sprintf("%s: address %v not encodable", codec, addr))
	}
}
