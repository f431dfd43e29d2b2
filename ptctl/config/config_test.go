// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/mmu"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	want := mmu.Options{
		Arch:        "vmsav8-4k",
		Codec:       "aarch64",
		MemoryBytes: 4 << 30,
		Backing:     "sparse",
		Tables:      64,
		TLBCapacity: 16,
	}
	if diff := cmp.Diff(want, c.MMUOptions()); diff != "" {
		t.Errorf("MMUOptions() mismatch (-want +got):\n%s", diff)
	}
	if c.LogLevel != log.Info {
		t.Errorf("LogLevel=%v, want: %v", c.LogLevel, log.Info)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--arch=x86-64", "--codec=x86", "--memory=64M", "--tlb-capacity=0", "--log-level=debug"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "x86-64"; c.Arch != want {
		t.Errorf("Arch=%v, want: %v", c.Arch, want)
	}
	if want := "x86"; c.Codec != want {
		t.Errorf("Codec=%v, want: %v", c.Codec, want)
	}
	if want := Bytes(64 << 20); c.Memory != want {
		t.Errorf("Memory=%v, want: %v", uint64(c.Memory), uint64(want))
	}
	if c.TLBCapacity != 0 {
		t.Errorf("TLBCapacity=%v, want: 0", c.TLBCapacity)
	}
	if c.LogLevel != log.Debug {
		t.Errorf("LogLevel=%v, want: %v", c.LogLevel, log.Debug)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	args := []string{"--arch=vmsav8-16k", "--memory=1G", "--tables=8", "--log-level=warning"}
	c, err := NewFromFlags(newFlagSet(t, args...))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewFromFlags(newFlagSet(t, c.ToFlags()...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("ToFlags round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(args, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		err  string
	}{
		{name: "arch", args: []string{"--arch=riscv"}, err: "invalid arch"},
		{name: "codec", args: []string{"--codec=ppc"}, err: "invalid codec"},
		{name: "memory", args: []string{"--memory=12"}, err: "memory"},
		{name: "backing", args: []string{"--backing=disk"}, err: "invalid backing"},
		{name: "tables", args: []string{"--tables=0"}, err: "tables"},
		{name: "tlb", args: []string{"--tlb-capacity=-1"}, err: "tlb-capacity"},
		{name: "format", args: []string{"--log-format=xml"}, err: "log-format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newFlagSet(t, tc.args...))
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("NewFromFlags(%v) = %v, want error containing %q", tc.args, err, tc.err)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptctl.toml")
	const contents = `
arch = "x86-64"
codec = "x86"
memory = "256M"
tables = 128
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	// The file overrides defaults, explicit flags override the file.
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--tables=32"))
	if err != nil {
		t.Fatal(err)
	}
	want := mmu.Options{
		Arch:        "x86-64",
		Codec:       "x86",
		MemoryBytes: 256 << 20,
		Backing:     "sparse",
		Tables:      32,
		TLBCapacity: 16,
	}
	if diff := cmp.Diff(want, c.MMUOptions()); diff != "" {
		t.Errorf("MMUOptions() mismatch (-want +got):\n%s", diff)
	}
	if c.LogLevel != log.Debug {
		t.Errorf("LogLevel=%v, want: %v", c.LogLevel, log.Debug)
	}
}

func TestConfigFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	if _, err := NewFromFlags(newFlagSet(t, "--config="+path)); err == nil {
		t.Errorf("NewFromFlags with missing file succeeded")
	}
}

func TestClone(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	clone := c.Clone()
	if diff := cmp.Diff(c, clone); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	clone.Tables = 1
	if c.Tables == 1 {
		t.Errorf("Clone shares state with the original")
	}
}

func TestBytes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Bytes
		str  string
	}{
		{in: "4096", want: 4096, str: "4K"},
		{in: "0x1000", want: 4096, str: "4K"},
		{in: "1536K", want: 1536 << 10, str: "1536K"},
		{in: "2M", want: 2 << 20, str: "2M"},
		{in: "4G", want: 4 << 30, str: "4G"},
		{in: "1T", want: 1 << 40, str: "1T"},
		{in: "12", want: 12, str: "12"},
	} {
		got, err := ParseBytes(tc.in)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseBytes(%q) = %d, want %d", tc.in, uint64(got), uint64(tc.want))
		}
		if s := got.String(); s != tc.str {
			t.Errorf("Bytes(%d).String() = %q, want %q", uint64(got), s, tc.str)
		}
	}
	for _, in := range []string{"", "G", "-1", "16777216T", "12Q"} {
		if _, err := ParseBytes(in); err == nil {
			t.Errorf("ParseBytes(%q) succeeded", in)
		}
	}
}
