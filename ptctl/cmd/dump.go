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
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pagetree/ptctl/cmd/util"
	"gvisor.dev/pagetree/ptctl/config"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	tlb bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "execute an operation script and print the resulting page table tree"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [-tlb] <script.toml|script.yaml> - prints the page tables after the script.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.tlb, "tlb", false, "also print the translation cache.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := LoadScript(f.Arg(0))
	if err != nil {
		util.Fatalf("loading script: %v", err)
	}
	h, err := execute(io.Discard, conf, s)
	if err != nil {
		util.Errorf("dump failed: %v", err)
		return subcommands.ExitFailure
	}
	defer h.Close()

	ll := h.LowLevel()
	fmt.Printf("# %v, %d of %d page tables in use\n", ll.Arch(), h.Tables().InUse(), h.Tables().Capacity())
	if err := ll.View().Dump(os.Stdout); err != nil {
		util.Fatalf("writing tree: %v", err)
	}
	if d.tlb {
		fmt.Println("# translation cache")
		for _, m := range ll.TLBEntries() {
			fmt.Println(m)
		}
	}
	return subcommands.ExitSuccess
}
