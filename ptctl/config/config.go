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

// Package config provides basic infrastructure to set configuration settings
// for ptctl. Each setting is set as a command line flag and may also be read
// from a TOML file named by --config. Flags given explicitly on the command
// line take precedence over the file.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/mmu"
	"gvisor.dev/pagetree/pkg/pagetables/pte"
	"gvisor.dev/pagetree/pkg/ptmem"
)

// Config holds configuration that is not part of an operation script.
//
// Fields tagged with "flag" are populated from the flag of that name. Fields
// tagged with "toml" may also be set by the configuration file.
type Config struct {
	// ConfigFile is the path of an optional TOML configuration file.
	ConfigFile string `flag:"config" toml:"-"`

	// Arch is the name of the translation architecture.
	Arch string `flag:"arch" toml:"arch"`

	// Codec is the name of the page table entry encoding.
	Codec string `flag:"codec" toml:"codec"`

	// Memory is the size of physical memory.
	Memory Bytes `flag:"memory" toml:"memory"`

	// Backing is the word store used for physical and page table memory.
	Backing string `flag:"backing" toml:"backing"`

	// Tables is the number of page table slots, including the root.
	Tables int `flag:"tables" toml:"tables"`

	// TLBCapacity is the number of translation cache entries. Zero disables
	// the cache.
	TLBCapacity int `flag:"tlb-capacity" toml:"tlb_capacity"`

	// LogLevel is the minimum level that is emitted.
	LogLevel log.Level `flag:"log-level" toml:"log_level"`

	// LogFormat is the log format, "text" or "json".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// LogFilename is the file debug information is written to. Empty means
	// stderr.
	LogFilename string `flag:"log" toml:"log"`
}

// Bytes is a byte count that accepts an optional K, M, G or T suffix.
type Bytes uint64

// ParseBytes parses a byte count such as "4096", "0x1000" or "4G".
func ParseBytes(s string) (Bytes, error) {
	shift := 0
	switch {
	case strings.HasSuffix(s, "K"):
		shift = 10
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "G"):
		shift = 30
	case strings.HasSuffix(s, "T"):
		shift = 40
	}
	num := s
	if shift != 0 {
		num = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte count %q: %w", s, err)
	}
	if v > ^uint64(0)>>shift {
		return 0, fmt.Errorf("byte count %q overflows", s)
	}
	return Bytes(v << shift), nil
}

// String implements flag.Value.
func (b *Bytes) String() string {
	if b == nil {
		return "0"
	}
	v := uint64(*b)
	for _, u := range []struct {
		shift  uint
		suffix string
	}{{40, "T"}, {30, "G"}, {20, "M"}, {10, "K"}} {
		if v != 0 && v&(1<<u.shift-1) == 0 {
			return strconv.FormatUint(v>>u.shift, 10) + u.suffix
		}
	}
	return strconv.FormatUint(v, 10)
}

// Set implements flag.Value.
func (b *Bytes) Set(s string) error {
	v, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Get implements flag.Getter.
func (b *Bytes) Get() any {
	return *b
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// MMUOptions returns the options used to build low-level states.
func (c *Config) MMUOptions() mmu.Options {
	return mmu.Options{
		Arch:        c.Arch,
		Codec:       c.Codec,
		MemoryBytes: uint64(c.Memory),
		Backing:     c.Backing,
		Tables:      c.Tables,
		TLBCapacity: c.TLBCapacity,
	}
}

func (c *Config) validate() error {
	if _, ok := frame.Lookup(c.Arch); !ok {
		return fmt.Errorf("invalid arch %q, must be one of %v", c.Arch, frame.Names())
	}
	if _, ok := pte.Lookup(c.Codec); !ok {
		return fmt.Errorf("invalid codec %q, must be one of %v", c.Codec, pte.Names())
	}
	if c.Memory == 0 || c.Memory%8 != 0 {
		return fmt.Errorf("memory must be a non-zero multiple of 8 bytes, got %d", uint64(c.Memory))
	}
	switch c.Backing {
	case ptmem.KindHeap, ptmem.KindSparse, ptmem.KindMapped:
	default:
		return fmt.Errorf("invalid backing %q", c.Backing)
	}
	if c.Tables < 1 {
		return fmt.Errorf("tables must be at least 1, got %d", c.Tables)
	}
	if c.TLBCapacity < 0 {
		return fmt.Errorf("tlb-capacity must not be negative, got %d", c.TLBCapacity)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q", c.LogFormat)
	}
	return nil
}
