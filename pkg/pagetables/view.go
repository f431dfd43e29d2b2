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

package pagetables

import (
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/pttree"
)

// View decodes the tables into the equivalent tree, including tables with
// no mappings below them.
func (p *PageTables) View() pttree.Tree {
	return pttree.Build(p.arch, p.bounds, p.buildNode(p.root, 0))
}

func (p *PageTables) buildNode(base hostarch.PhysAddr, level int) *pttree.Node {
	n := &pttree.Node{
		Level:   level,
		Entries: make([]pttree.Entry, p.arch.EntryCount(level)),
	}
	for i := range n.Entries {
		e := p.entry(base, i, level)
		switch {
		case !e.Valid:
		case e.Leaf:
			n.Entries[i] = pttree.LeafEntry(frame.Frame{
				Base: e.Addr,
				Size: p.arch.FrameSize(level),
				Attr: e.Attr,
			})
		default:
			n.Entries[i] = pttree.ChildEntry(p.buildNode(e.Addr, level+1))
		}
	}
	return n
}
