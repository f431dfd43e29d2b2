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

// Package refinement checks that the low-level memory state refines the
// high-level one. A Harness drives a vmspec.State, an mmu.State and a
// pttree.Tree with the same operations and reports any divergence in
// results, mappings or invariants.
package refinement

import (
	"fmt"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/mmu"
)

// Kind is the kind of an operation.
type Kind int

// Operation kinds. Evict and Fill act on the translation cache only.
const (
	Read Kind = iota
	Write
	Map
	Unmap
	Query
	Evict
	Fill
	numKinds
)

var kindNames = [...]string{
	Read:  "read",
	Write: "write",
	Map:   "map",
	Unmap: "unmap",
	Query: "query",
	Evict: "evict",
	Fill:  "fill",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", b)
}

// Op is one operation.
type Op struct {
	Kind Kind

	// Addr is the virtual address accessed, or the virtual base for Map,
	// Unmap and Evict.
	Addr hostarch.Addr

	// Frame is the frame mapped by Map.
	Frame frame.Frame

	// Value is the word stored by Write.
	Value uint64
}

// String implements fmt.Stringer.String.
func (o Op) String() string {
	switch o.Kind {
	case Write:
		return fmt.Sprintf("write(%v, %#x)", o.Addr, o.Value)
	case Map:
		return fmt.Sprintf("map(%v, %v)", o.Addr, o.Frame)
	default:
		return fmt.Sprintf("%v(%v)", o.Kind, o.Addr)
	}
}

// Result is the outcome of an operation. Only the fields meaningful for
// the operation's kind are set.
type Result struct {
	Value   uint64
	Mapping frame.Mapping
	Err     error
}

// Equal returns true if r and o are the same outcome. Errors are compared
// by kind.
func (r Result) Equal(o Result) bool {
	return r.Value == o.Value && r.Mapping == o.Mapping && pterr.Equals(r.Err, o.Err)
}

// String implements fmt.Stringer.String.
func (r Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("error: %v", r.Err)
	case r.Mapping != (frame.Mapping{}):
		return fmt.Sprintf("ok: %v", r.Mapping)
	default:
		return fmt.Sprintf("ok: %#x", r.Value)
	}
}

// Apply performs op on s.
//
// Precondition: a Map op satisfies s.Arch().CheckMapping.
func Apply(s *mmu.State, op Op) Result {
	var r Result
	switch op.Kind {
	case Read:
		r.Value, r.Err = s.Read(op.Addr)
	case Write:
		r.Err = s.Write(op.Addr, op.Value)
	case Map:
		r.Err = s.Map(op.Addr, op.Frame)
	case Unmap:
		r.Mapping, r.Err = s.Unmap(op.Addr)
	case Query:
		r.Mapping, r.Err = s.Query(op.Addr)
	case Evict:
		s.EvictTLB(op.Addr)
	case Fill:
		r.Mapping, r.Err = s.FillTLB(op.Addr)
	default:
		panic(fmt.Sprintf("unknown operation %v", op.Kind))
	}
	return r
}
