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
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/mmu"
	"gvisor.dev/pagetree/pkg/ptmem"
	"gvisor.dev/pagetree/pkg/pttree"
	"gvisor.dev/pagetree/pkg/vmspec"
)

// Harness runs operations against the three layers in lockstep.
type Harness struct {
	hl     *vmspec.State
	ll     *mmu.State
	tables *ptmem.Tables

	// model is the tree the low-level page tables must look like.
	model pttree.Tree
}

// NewHarness returns a Harness over empty states built from opts.
func NewHarness(opts mmu.Options) (*Harness, error) {
	ll, tables, err := mmu.NewFromOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Harness{
		hl:     vmspec.New(ll.PhysicalMemorySize()),
		ll:     ll,
		tables: tables,
		model:  pttree.New(ll.Arch(), ll.Bounds()),
	}, nil
}

// LowLevel returns the low-level state.
func (h *Harness) LowLevel() *mmu.State {
	return h.ll
}

// HighLevel returns the high-level state.
func (h *Harness) HighLevel() *vmspec.State {
	return h.hl
}

// Model returns the tree model.
func (h *Harness) Model() pttree.Tree {
	return h.model
}

// Tables returns the page table allocator of the low-level state.
func (h *Harness) Tables() *ptmem.Tables {
	return h.tables
}

// Close releases the page tables and memory of the low-level state.
func (h *Harness) Close() {
	h.ll.Close()
	if err := h.ll.Release(); err != nil {
		log.Warningf("refinement: releasing physical memory: %v", err)
	}
	if err := h.tables.Close(); err != nil {
		log.Warningf("refinement: releasing page table memory: %v", err)
	}
}

// Step applies op to every layer and returns the low-level result. It
// returns an error if the layers disagree.
//
// A Map the low level refuses for lack of page table memory is not applied
// to the other layers. The refusal must leave the mappings unchanged.
func (h *Harness) Step(op Op) (Result, error) {
	got := Apply(h.ll, op)
	if errors.Is(got.Err, ptmem.ErrExhausted) {
		return got, h.checkMappings()
	}
	want, model, hasModel := h.expect(op)
	if !got.Equal(want) {
		return got, fmt.Errorf("%v: low level returned %v, high level %v", op, got, want)
	}
	if hasModel && !got.Equal(model) {
		return got, fmt.Errorf("%v: low level returned %v, tree model %v", op, got, model)
	}
	return got, nil
}

// expect applies op to the high-level state and the tree model and returns
// their results. hasModel is false for operations the model does not have.
func (h *Harness) expect(op Op) (want, model Result, hasModel bool) {
	switch op.Kind {
	case Read:
		want.Value, want.Err = h.hl.Read(op.Addr)
	case Write:
		want.Err = h.hl.Write(op.Addr, op.Value)
	case Map:
		want.Err = h.hl.Map(op.Addr, op.Frame, h.ll)
		t, err := h.model.Map(op.Addr, op.Frame)
		if err == nil {
			h.model = t
		}
		model, hasModel = Result{Err: err}, true
	case Unmap:
		want.Mapping, want.Err = h.hl.Unmap(op.Addr)
		m, _ := h.model.Query(op.Addr)
		t, err := h.model.Unmap(op.Addr)
		if err == nil {
			h.model = t
			model.Mapping = m
		}
		model.Err, hasModel = err, true
	case Query:
		want.Mapping, want.Err = h.hl.Query(op.Addr)
		model.Mapping, model.Err = h.model.Query(op.Addr)
		hasModel = true
	case Evict:
		// No effect on mappings or memory.
	case Fill:
		want.Mapping, want.Err = h.hl.Query(op.Addr)
	default:
		panic(fmt.Sprintf("unknown operation %v", op.Kind))
	}
	return want, model, hasModel
}

// checkMappings compares the mappings of all layers.
func (h *Harness) checkMappings() error {
	hl := h.hl.Mappings()
	if diff := cmp.Diff(hl, h.ll.Interpret(), cmpopts.EquateEmpty()); diff != "" {
		return fmt.Errorf("page tables differ from high-level mappings (-high +low):\n%s", diff)
	}
	if diff := cmp.Diff(hl, h.model.Mappings(), cmpopts.EquateEmpty()); diff != "" {
		return fmt.Errorf("tree model differs from high-level mappings (-high +model):\n%s", diff)
	}
	return nil
}

// Check verifies the invariants of every layer and that the layers
// describe the same mappings, tree and memory contents.
func (h *Harness) Check() error {
	if err := h.hl.CheckInvariants(); err != nil {
		return fmt.Errorf("high level: %w", err)
	}
	if err := h.ll.CheckInvariants(); err != nil {
		return fmt.Errorf("low level: %w", err)
	}
	if err := h.model.CheckInvariants(); err != nil {
		return fmt.Errorf("tree model: %w", err)
	}
	if err := h.checkMappings(); err != nil {
		return err
	}
	if view := h.ll.View(); !view.Equal(h.model) {
		return fmt.Errorf("page tables differ from the tree model:\n%v\nmodel:\n%v", view, h.model)
	}
	for i, v := range h.hl.Written() {
		vaddr := i.Addr()
		m, ok := h.hl.MappingFor(vaddr)
		if !ok {
			return fmt.Errorf("written word at %v is not mapped", vaddr)
		}
		paddr := m.Translate(vaddr)
		if got := h.ll.Load(paddr.WordIndex()); got != v {
			return fmt.Errorf("word at %v (physical %v) is %#x, want %#x", vaddr, paddr, got, v)
		}
	}
	return nil
}
