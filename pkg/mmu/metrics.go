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

package mmu

import (
	"errors"

	ptkind "gvisor.dev/pagetree/pkg/errors"
	"gvisor.dev/pagetree/pkg/errors/pterr"
	"gvisor.dev/pagetree/pkg/metric"
	"gvisor.dev/pagetree/pkg/ptmem"
)

var (
	opsMetric = metric.MustCreateNewUint64Metric("/mmu/operations", "Number of memory operations, by operation and result.",
		metric.NewField("op", "read", "write", "map", "unmap", "query"),
		metric.NewField("result", "ok", "not_mapped", "conflict", "exhausted", "other"))

	tlbMetric = metric.MustCreateNewUint64Metric("/mmu/tlb", "Translation cache events.",
		metric.NewField("event", "hit", "miss", "fill", "evict"))
)

// resultOf names the outcome of an operation for metrics.
func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ptmem.ErrExhausted) {
		return "exhausted"
	}
	switch k, _ := pterr.KindOf(err); k {
	case ptkind.NotMapped:
		return "not_mapped"
	case ptkind.Conflict:
		return "conflict"
	default:
		return "other"
	}
}
