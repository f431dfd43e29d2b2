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
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"gvisor.dev/pagetree/pkg/frame"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/mmu"
	"gvisor.dev/pagetree/pkg/sync"
)

// Options configures Run.
type Options struct {
	// MMU describes each low-level state.
	MMU mmu.Options

	// FirstSeed is the seed of the first sequence. Sequence i uses seed
	// FirstSeed+i.
	FirstSeed int64

	// Seeds is the number of sequences.
	Seeds int

	// Steps is the number of operations per sequence.
	Steps int

	// CheckEvery is the number of steps between full checks. Zero checks
	// only at the end of each sequence.
	CheckEvery int

	// Parallelism bounds the number of sequences run at once. Zero means
	// GOMAXPROCS.
	Parallelism int
}

// Failure describes the first divergence found in one sequence.
type Failure struct {
	Seed int64
	Step int
	Op   Op
	Err  error
}

// String implements fmt.Stringer.String.
func (f Failure) String() string {
	return fmt.Sprintf("seed %d step %d %v: %v", f.Seed, f.Step, f.Op, f.Err)
}

// Report summarizes a Run.
type Report struct {
	Seeds    int
	Steps    int
	Failures []Failure
}

// RunSeed runs one sequence and returns the first divergence, if any. The
// returned error is non-nil only if the harness could not be built.
func RunSeed(ctx context.Context, opts Options, seed int64) (*Failure, error) {
	h, err := NewHarness(opts.MMU)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	a, _ := frame.Lookup(opts.MMU.Arch)
	g, err := NewGenerator(a, opts.MMU.MemoryBytes, seed)
	if err != nil {
		return nil, err
	}
	for step := 0; step < opts.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op := g.Next()
		if _, err := h.Step(op); err != nil {
			return &Failure{Seed: seed, Step: step, Op: op, Err: err}, nil
		}
		if opts.CheckEvery > 0 && (step+1)%opts.CheckEvery == 0 {
			if err := h.Check(); err != nil {
				return &Failure{Seed: seed, Step: step, Op: op, Err: err}, nil
			}
		}
	}
	if err := h.Check(); err != nil {
		return &Failure{Seed: seed, Step: opts.Steps, Err: err}, nil
	}
	return nil, nil
}

// Run runs opts.Seeds sequences in parallel and reports every divergence.
func Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Seeds < 0 || opts.Steps < 0 || opts.CheckEvery < 0 {
		return Report{}, fmt.Errorf("invalid options %+v", opts)
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	var (
		mu       sync.Mutex
		failures []Failure
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := 0; i < opts.Seeds; i++ {
		seed := opts.FirstSeed + int64(i)
		g.Go(func() error {
			f, err := RunSeed(ctx, opts, seed)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			if f != nil {
				log.Warningf("refinement: %v", f)
				mu.Lock()
				failures = append(failures, *f)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Seed < failures[j].Seed })
	log.Infof("refinement: %d sequences of %d steps, %d failures", opts.Seeds, opts.Steps, len(failures))
	return Report{Seeds: opts.Seeds, Steps: opts.Steps, Failures: failures}, nil
}
