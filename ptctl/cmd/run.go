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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pagetree/ptctl/cmd/util"
	"gvisor.dev/pagetree/ptctl/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	mappings bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "execute an operation script and print each result"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [-mappings] <script.toml|script.yaml> - executes the operations of the script.

Every operation is checked against the high-level state and the tree model.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.mappings, "mappings", false, "print the final mappings.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := LoadScript(f.Arg(0))
	if err != nil {
		util.Fatalf("loading script: %v", err)
	}
	h, err := execute(os.Stdout, conf, s)
	if err != nil {
		util.Errorf("run failed: %v", err)
		return subcommands.ExitFailure
	}
	defer h.Close()

	if r.mappings {
		for _, m := range h.LowLevel().Interpret() {
			fmt.Println(m)
		}
	}
	return subcommands.ExitSuccess
}
