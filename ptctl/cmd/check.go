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

	"github.com/google/subcommands"
	"gvisor.dev/pagetree/pkg/refinement"
	"gvisor.dev/pagetree/ptctl/cmd/util"
	"gvisor.dev/pagetree/ptctl/config"
)

// checkFlags are the flags shared by the commands that run random sequences.
type checkFlags struct {
	firstSeed   int64
	seeds       int
	steps       int
	checkEvery  int
	parallelism int
}

func (c *checkFlags) setFlags(f *flag.FlagSet) {
	f.Int64Var(&c.firstSeed, "seed", 1, "seed of the first sequence.")
	f.IntVar(&c.seeds, "seeds", 64, "number of sequences.")
	f.IntVar(&c.steps, "steps", 1000, "operations per sequence.")
	f.IntVar(&c.checkEvery, "check-every", 10, "steps between full state comparisons, 0 compares only at the end.")
	f.IntVar(&c.parallelism, "parallel", 0, "sequences run concurrently, 0 means GOMAXPROCS.")
}

func (c *checkFlags) options(conf *config.Config) refinement.Options {
	return refinement.Options{
		MMU:         conf.Clone().MMUOptions(),
		FirstSeed:   c.firstSeed,
		Seeds:       c.seeds,
		Steps:       c.steps,
		CheckEvery:  c.checkEvery,
		Parallelism: c.parallelism,
	}
}

// Check implements subcommands.Command for the "check" command.
type Check struct {
	checkFlags
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "run random operation sequences against every layer and compare them"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] - runs seeded random sequences and reports divergences.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	report, err := refinement.Run(ctx, c.options(conf))
	if err != nil {
		util.Fatalf("check: %v", err)
	}
	for _, failure := range report.Failures {
		fmt.Println(failure)
	}
	util.Infof("%d sequences of %d steps, %d failures", report.Seeds, report.Steps, len(report.Failures))
	if len(report.Failures) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
