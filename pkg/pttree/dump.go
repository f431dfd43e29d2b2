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

package pttree

import (
	"fmt"
	"io"
	"strings"

	"gvisor.dev/pagetree/pkg/ptpath"
)

// Dump writes the non-empty slots of the tree to w, one per line, indented
// by level.
func (t Tree) Dump(w io.Writer) error {
	return t.dump(w, t.root, nil)
}

func (t Tree) dump(w io.Writer, n *Node, prefix ptpath.Path) error {
	indent := strings.Repeat("  ", n.Level)
	for i, e := range n.Entries {
		if e.Kind == Empty {
			continue
		}
		p := prefix.Append(i)
		if _, err := fmt.Fprintf(w, "%s[%d] %v %v\n", indent, i, p.ToAddress(t.arch), e); err != nil {
			return err
		}
		if e.Kind == Child {
			if err := t.dump(w, e.Child, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// String implements fmt.Stringer.String.
func (t Tree) String() string {
	var b strings.Builder
	t.Dump(&b)
	return b.String()
}
