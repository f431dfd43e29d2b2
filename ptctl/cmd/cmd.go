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

// Package cmd holds implementations of the ptctl commands.
package cmd

import (
	"fmt"
	"io"

	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/refinement"
	"gvisor.dev/pagetree/ptctl/config"
)

// execute applies the operations of s to a new harness built from conf and
// writes one line per operation to w. On success the caller owns the
// returned harness and must close it.
func execute(w io.Writer, conf *config.Config, s *Script) (*refinement.Harness, error) {
	h, err := refinement.NewHarness(conf.MMUOptions())
	if err != nil {
		return nil, err
	}
	ll := h.LowLevel()
	if err := s.Validate(ll.Arch(), ll.Bounds()); err != nil {
		h.Close()
		return nil, err
	}
	for i, op := range s.Operations() {
		r, err := h.Step(op)
		if _, werr := fmt.Fprintf(w, "%3d  %-56v %v\n", i, op, r); werr != nil {
			h.Close()
			return nil, werr
		}
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	if err := h.Check(); err != nil {
		h.Close()
		return nil, err
	}
	log.Debugf("Executed %d operations, %d page tables in use", len(s.Ops), h.Tables().InUse())
	return h, nil
}
