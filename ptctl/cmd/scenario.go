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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pagetree/ptctl/cmd/util"
	"gvisor.dev/pagetree/ptctl/config"
)

// scenarioScript maps a 4K page, queries and unmaps it, and maps the same
// address again to a different frame.
const scenarioScript = `
[[op]]
kind = "map"
addr = 0x1000
base = 0x9000_0000
size = "4K"
attr = "rw-u-"

[[op]]
kind = "query"
addr = 0x1000

[[op]]
kind = "write"
addr = 0x1010
value = 5

[[op]]
kind = "read"
addr = 0x1010

[[op]]
kind = "unmap"
addr = 0x1000

[[op]]
kind = "query"
addr = 0x1000

[[op]]
kind = "map"
addr = 0x1000
base = 0xa000_0000
size = "4K"
attr = "rw-u-"

[[op]]
kind = "read"
addr = 0x1010
`

// scenarioMemory is the smallest physical memory holding both frames of the
// scenario.
const scenarioMemory = 0xa000_1000

// Scenario implements subcommands.Command for the "scenario" command.
type Scenario struct{}

// Name implements subcommands.Command.Name.
func (*Scenario) Name() string {
	return "scenario"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scenario) Synopsis() string {
	return "run the built-in map, query, unmap and remap scenario"
}

// Usage implements subcommands.Command.Usage.
func (*Scenario) Usage() string {
	return `scenario - runs the built-in scenario on vmsav8-4k and prints each result.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Scenario) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Scenario) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config).Clone()
	conf.Arch = "vmsav8-4k"
	if conf.Memory < scenarioMemory {
		conf.Memory = scenarioMemory
	}

	s, err := ParseScript(FormatTOML, []byte(scenarioScript))
	if err != nil {
		util.Fatalf("parsing scenario: %v", err)
	}
	h, err := execute(os.Stdout, conf, s)
	if err != nil {
		util.Errorf("scenario failed: %v", err)
		return subcommands.ExitFailure
	}
	h.Close()
	return subcommands.ExitSuccess
}
