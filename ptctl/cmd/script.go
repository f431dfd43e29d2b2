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

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/hostarch"
	"gvisor.dev/pagetree/pkg/refinement"
)

// Script is a sequence of operations read from a TOML or YAML file.
//
// In TOML each operation is an [[op]] table:
//
//	[[op]]
//	kind = "map"
//	addr = 0x1000
//	base = 0x9000_0000
//	size = "4K"
//	attr = "rw-u-"
//
// In YAML the operations are a list under the "op" key.
type Script struct {
	Ops []ScriptOp `toml:"op" yaml:"op"`
}

// ScriptOp is one operation of a Script. Base, Size and Attr describe the
// frame of a map operation. Value is the word stored by a write.
type ScriptOp struct {
	Kind  refinement.Kind `toml:"kind" yaml:"kind"`
	Addr  uint64          `toml:"addr" yaml:"addr"`
	Base  uint64          `toml:"base" yaml:"base"`
	Size  frame.Size      `toml:"size" yaml:"size"`
	Attr  frame.Attr      `toml:"attr" yaml:"attr"`
	Value uint64          `toml:"value" yaml:"value"`
}

// Op returns the operation o describes.
func (o ScriptOp) Op() refinement.Op {
	op := refinement.Op{Kind: o.Kind, Addr: hostarch.Addr(o.Addr), Value: o.Value}
	if o.Kind == refinement.Map {
		op.Frame = frame.Frame{Base: hostarch.PhysAddr(o.Base), Size: o.Size, Attr: o.Attr}
	}
	return op
}

// Format is the encoding of a script.
type Format string

// Script formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown script extension %q, want .toml, .yaml or .yml", ext)
	}
}

// ParseScript decodes a script in the given format.
func ParseScript(format Format, data []byte) (*Script, error) {
	var s Script
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &s)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys %v", undecoded)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && err != io.EOF {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown script format %q", format)
	}
	return &s, nil
}

// LoadScript reads and decodes the script at path.
func LoadScript(path string) (*Script, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseScript(format, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	return s, nil
}

// Validate checks that every operation of s can be applied to an
// architecture a with physical memory bounds. Operations that would violate
// a precondition of the page tables are rejected here instead of panicking.
func (s *Script) Validate(a *frame.Arch, bounds frame.Bounds) error {
	for i, o := range s.Ops {
		op := o.Op()
		switch op.Kind {
		case refinement.Map:
			if err := a.CheckMapping(op.Addr, op.Frame, bounds); err != nil {
				return fmt.Errorf("op %d (%v): %w", i, op, err)
			}
		case refinement.Read, refinement.Write:
			if !op.Addr.IsAligned(hostarch.WordSize) {
				return fmt.Errorf("op %d (%v): address is not word aligned", i, op)
			}
		case refinement.Unmap, refinement.Query, refinement.Evict, refinement.Fill:
		default:
			return fmt.Errorf("op %d: unknown kind %v", i, op.Kind)
		}
	}
	return nil
}

// Operations returns the operations of s.
func (s *Script) Operations() []refinement.Op {
	ops := make([]refinement.Op, 0, len(s.Ops))
	for _, o := range s.Ops {
		ops = append(ops, o.Op())
	}
	return ops
}
