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

// Package pttree is a persistent radix tree model of a page table.
//
// A Tree is a value: every mutating operation returns a new Tree and leaves
// the receiver untouched. Unchanged subtrees are shared between versions, so
// Nodes must never be modified once they are reachable from a Tree.
//
// The tree is the reference against which the executable page tables in
// package pagetables are checked.
package pttree

import (
	"fmt"

	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/ptpath"
)

// Kind is the state of a table slot.
type Kind uint8

const (
	// Empty slots map nothing.
	Empty Kind = iota

	// Child slots point to a table at the next level.
	Child

	// Leaf slots map a frame.
	Leaf
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case Empty:
		return "Empty"
	case Child:
		return "Child"
	case Leaf:
		return "Leaf"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is a table slot. Child is set iff Kind is Child, and Frame is
// meaningful iff Kind is Leaf.
type Entry struct {
	Kind  Kind
	Child *Node
	Frame frame.Frame
}

// ChildEntry returns an Entry pointing to n.
func ChildEntry(n *Node) Entry {
	return Entry{Kind: Child, Child: n}
}

// LeafEntry returns an Entry mapping f.
func LeafEntry(f frame.Frame) Entry {
	return Entry{Kind: Leaf, Frame: f}
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	switch e.Kind {
	case Child:
		return fmt.Sprintf("Child(level %d)", e.Child.Level)
	case Leaf:
		return fmt.Sprintf("Leaf%v", e.Frame)
	default:
		return e.Kind.String()
	}
}

// Node is a table at some level.
type Node struct {
	Level   int
	Entries []Entry
}

// NewNode returns a table at level with every slot Empty.
func NewNode(a *frame.Arch, level int) *Node {
	return &Node{
		Level:   level,
		Entries: make([]Entry, a.EntryCount(level)),
	}
}

// with returns a copy of n with slot idx replaced by e.
func (n *Node) with(idx int, e Entry) *Node {
	c := &Node{
		Level:   n.Level,
		Entries: make([]Entry, len(n.Entries)),
	}
	copy(c.Entries, n.Entries)
	c.Entries[idx] = e
	return c
}

// HasLeaves returns true if any slot in the subtree rooted at n is a Leaf.
func (n *Node) HasLeaves() bool {
	for _, e := range n.Entries {
		switch e.Kind {
		case Leaf:
			return true
		case Child:
			if e.Child.HasLeaves() {
				return true
			}
		}
	}
	return false
}

// Equal returns true if the subtrees rooted at n and o have identical
// shape and contents.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil || n.Level != o.Level || len(n.Entries) != len(o.Entries) {
		return false
	}
	for i, e := range n.Entries {
		oe := o.Entries[i]
		if e.Kind != oe.Kind {
			return false
		}
		switch e.Kind {
		case Leaf:
			if e.Frame != oe.Frame {
				return false
			}
		case Child:
			if !e.Child.Equal(oe.Child) {
				return false
			}
		}
	}
	return true
}

// Tree is a page table. The zero value is not usable; see New.
type Tree struct {
	arch   *frame.Arch
	bounds frame.Bounds
	root   *Node
}

// New returns an empty tree for the given geometry and physical bounds.
func New(a *frame.Arch, bounds frame.Bounds) Tree {
	if err := a.Validate(); err != nil {
		panic(err)
	}
	return Tree{
		arch:   a,
		bounds: bounds,
		root:   NewNode(a, 0),
	}
}

// Build returns a tree with the given root. The caller must not modify the
// nodes afterwards.
func Build(a *frame.Arch, bounds frame.Bounds, root *Node) Tree {
	return Tree{
		arch:   a,
		bounds: bounds,
		root:   root,
	}
}

// Arch returns the tree's geometry.
func (t Tree) Arch() *frame.Arch {
	return t.arch
}

// Bounds returns the tree's physical bounds.
func (t Tree) Bounds() frame.Bounds {
	return t.bounds
}

// Root returns the root table.
func (t Tree) Root() *Node {
	return t.root
}

// Equal returns true if t and o have the same geometry, bounds and
// structure, including empty tables.
func (t Tree) Equal(o Tree) bool {
	return t.arch == o.arch && t.bounds == o.bounds && t.root.Equal(o.root)
}

func (t Tree) checkPath(p ptpath.Path) {
	if !p.Valid(t.arch) {
		panic(fmt.Sprintf("invalid path %v for %s", p, t.arch.Name))
	}
}

// Visit descends along p and returns the entries seen. It stops early at
// the first Empty or Leaf, so the result has between 1 and len(p) entries.
func (t Tree) Visit(p ptpath.Path) []Entry {
	t.checkPath(p)
	var entries []Entry
	n := t.root
	for _, idx := range p {
		e := n.Entries[idx]
		entries = append(entries, e)
		if e.Kind != Child {
			break
		}
		n = e.Child
	}
	return entries
}

// Insert maps f at the slot named by p, creating tables for any Empty slot
// above it. f.Size must be the frame size of the slot's level.
//
// Insert fails with a Conflict, returning t unchanged, if the slot is not
// Empty or a Leaf lies above it.
func (t Tree) Insert(p ptpath.Path, f frame.Frame) (Tree, error) {
	t.checkPath(p)
	if want := t.arch.FrameSize(p.Level()); f.Size != want {
		panic(fmt.Sprintf("frame size %v at level %d, wanted %v", f.Size, p.Level(), want))
	}
	root, err := t.insert(t.root, p, f)
	if err != nil {
		return t, err
	}
	t.root = root
	return t, nil
}

func (t Tree) insert(n *Node, p ptpath.Path, f frame.Frame) (*Node, error) {
	idx, rest := p.Step()
	e := n.Entries[idx]
	if len(rest) == 0 {
		if e.Kind != Empty {
			return nil, pterr.Conflictf("slot %d at level %d holds %v", idx, n.Level, e)
		}
		return n.with(idx, LeafEntry(f)), nil
	}
	var child *Node
	switch e.Kind {
	case Leaf:
		return nil, pterr.Conflictf("slot %d at level %d blocked by %v", idx, n.Level, e)
	case Empty:
		child = NewNode(t.arch, n.Level+1)
	case Child:
		child = e.Child
	}
	nc, err := t.insert(child, rest, f)
	if err != nil {
		return nil, err
	}
	return n.with(idx, ChildEntry(nc)), nil
}

// Remove clears the Leaf at the slot named by p. Tables left empty are not
// pruned.
//
// Remove fails with NotMapped, returning t unchanged, if the slot is not a
// Leaf or any slot above it is not a Child.
func (t Tree) Remove(p ptpath.Path) (Tree, error) {
	t.checkPath(p)
	root, err := remove(t.root, p)
	if err != nil {
		return t, err
	}
	t.root = root
	return t, nil
}

func remove(n *Node, p ptpath.Path) (*Node, error) {
	idx, rest := p.Step()
	e := n.Entries[idx]
	if len(rest) == 0 {
		if e.Kind != Leaf {
			return nil, pterr.NotMappedf("slot %d at level %d holds %v", idx, n.Level, e)
		}
		return n.with(idx, Entry{}), nil
	}
	if e.Kind != Child {
		return nil, pterr.NotMappedf("slot %d at level %d holds %v, wanted a table", idx, n.Level, e)
	}
	nc, err := remove(e.Child, rest)
	if err != nil {
		return nil, err
	}
	return n.with(idx, ChildEntry(nc)), nil
}

// clearSlot replaces the slot named by p, whose ancestors must all be Child
// slots, with Empty.
func clearSlot(n *Node, p ptpath.Path) *Node {
	idx, rest := p.Step()
	if len(rest) == 0 {
		return n.with(idx, Entry{})
	}
	return n.with(idx, ChildEntry(clearSlot(n.Entries[idx].Child, rest)))
}

// PathMapping is a Leaf and the path that reaches it.
type PathMapping struct {
	Path  ptpath.Path
	Frame frame.Frame
}

// PathMappings returns every Leaf in the tree with its path, in address
// order.
func (t Tree) PathMappings() []PathMapping {
	var out []PathMapping
	var walk func(n *Node, prefix ptpath.Path)
	walk = func(n *Node, prefix ptpath.Path) {
		for i, e := range n.Entries {
			switch e.Kind {
			case Leaf:
				out = append(out, PathMapping{Path: prefix.Append(i), Frame: e.Frame})
			case Child:
				walk(e.Child, prefix.Append(i))
			}
		}
	}
	walk(t.root, nil)
	return out
}

// Mappings returns every mapped frame with its virtual base, in address
// order.
func (t Tree) Mappings() []frame.Mapping {
	pms := t.PathMappings()
	ms := make([]frame.Mapping, 0, len(pms))
	for _, pm := range pms {
		ms = append(ms, frame.Mapping{VBase: pm.Path.ToAddress(t.arch), Frame: pm.Frame})
	}
	return ms
}
