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

package refinement

import (
	"fmt"
	"math/rand"

	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
)

// maxSizes is the number of frame sizes, smallest first, that a Generator
// maps.
const maxSizes = 3

// Generator produces a deterministic random sequence of valid operations.
// Addresses are drawn from a small window so that mappings collide often.
type Generator struct {
	r *rand.Rand

	// sizes are the frame sizes used, smallest first.
	sizes []frame.Size

	// window bounds the virtual addresses used.
	window uint64

	// pmemBytes bounds the physical addresses used.
	pmemBytes uint64

	// recent holds recently generated mappings, successful or not.
	recent []frame.Mapping
}

// NewGenerator returns a Generator for a with pmemBytes of physical memory.
// It fails if no frame size of a fits four times in physical memory.
func NewGenerator(a *frame.Arch, pmemBytes uint64, seed int64) (*Generator, error) {
	var sizes []frame.Size
	for level := a.LastLevel(); level >= 0 && len(sizes) < maxSizes; level-- {
		if s := a.FrameSize(level); uint64(s) <= pmemBytes/4 {
			sizes = append(sizes, s)
		}
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("physical memory of %#x bytes too small for %s frames", pmemBytes, a)
	}
	window := 2 * uint64(sizes[len(sizes)-1])
	if span := a.Span(); window > span {
		window = span
	}
	return &Generator{
		r:         rand.New(rand.NewSource(seed)),
		sizes:     sizes,
		window:    window,
		pmemBytes: pmemBytes,
	}, nil
}

func (g *Generator) chance(percent int) bool {
	return g.r.Intn(100) < percent
}

// size picks a frame size, favoring small ones.
func (g *Generator) size() frame.Size {
	for _, s := range g.sizes[:len(g.sizes)-1] {
		if g.chance(60) {
			return s
		}
	}
	return g.sizes[len(g.sizes)-1]
}

func (g *Generator) attr() frame.Attr {
	return frame.Attr{
		Readable:       g.chance(85),
		Writable:       g.chance(75),
		Executable:     g.chance(20),
		UserAccessible: g.chance(85),
		Device:         g.chance(10),
	}
}

// address returns a word-aligned address, usually inside a recent mapping.
func (g *Generator) address() hostarch.Addr {
	if len(g.recent) > 0 && g.chance(75) {
		m := g.recent[g.r.Intn(len(g.recent))]
		off := uint64(g.r.Int63n(int64(m.Frame.Size))) &^ (hostarch.WordSize - 1)
		return m.VBase + hostarch.Addr(off)
	}
	return hostarch.Addr(uint64(g.r.Int63n(int64(g.window))) &^ (hostarch.WordSize - 1))
}

// base returns an address aligned to some frame size, usually the base of
// a recent mapping.
func (g *Generator) base() hostarch.Addr {
	if len(g.recent) > 0 && g.chance(70) {
		return g.recent[g.r.Intn(len(g.recent))].VBase
	}
	return g.address().RoundDown(uint64(g.size()))
}

func (g *Generator) mapOp() Op {
	s := g.size()
	vbase := hostarch.Addr(uint64(g.r.Int63n(int64(g.window)))).RoundDown(uint64(s))
	pbase := hostarch.PhysAddr(uint64(g.r.Int63n(int64(g.pmemBytes - uint64(s) + 1)))).RoundDown(uint64(s))
	m := frame.Mapping{VBase: vbase, Frame: frame.Frame{Base: pbase, Size: s, Attr: g.attr()}}
	g.recent = append(g.recent, m)
	if len(g.recent) > 16 {
		g.recent = g.recent[1:]
	}
	return Op{Kind: Map, Addr: vbase, Frame: m.Frame}
}

// Next returns the next operation.
func (g *Generator) Next() Op {
	switch n := g.r.Intn(100); {
	case n < 25:
		return g.mapOp()
	case n < 40:
		return Op{Kind: Unmap, Addr: g.base()}
	case n < 60:
		return Op{Kind: Read, Addr: g.address()}
	case n < 80:
		return Op{Kind: Write, Addr: g.address(), Value: g.r.Uint64()}
	case n < 90:
		return Op{Kind: Query, Addr: g.address()}
	case n < 95:
		return Op{Kind: Fill, Addr: g.address()}
	default:
		return Op{Kind: Evict, Addr: g.base()}
	}
}

// Ops returns the next n operations.
func (g *Generator) Ops(n int) []Op {
	ops := make([]Op, n)
	for i := range ops {
		ops[i] = g.Next()
	}
	return ops
}
