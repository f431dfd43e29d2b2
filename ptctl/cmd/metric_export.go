// Copyright 2023 The gVisor Authors.
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
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/metric"
	"gvisor.dev/pagetree/pkg/refinement"
	"gvisor.dev/pagetree/ptctl/cmd/util"
	"gvisor.dev/pagetree/ptctl/config"
)

// MetricExport implements subcommands.Command for the "export-metrics"
// command.
type MetricExport struct {
	checkFlags
	exporterPrefix string
}

// Name implements subcommands.Command.Name.
func (*MetricExport) Name() string {
	return "export-metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MetricExport) Synopsis() string {
	return "run random operation sequences and export the collected metrics"
}

// Usage implements subcommands.Command.Usage.
func (*MetricExport) Usage() string {
	return `export-metrics [-exporter-prefix=<pagetree>] [check flags] - prints metric data in Prometheus metric format
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *MetricExport) SetFlags(f *flag.FlagSet) {
	m.checkFlags.setFlags(f)
	f.StringVar(&m.exporterPrefix, "exporter-prefix", "pagetree", "Prefix for all metric names, joined to the name with an underscore")
}

// Execute implements subcommands.Command.Execute.
func (m *MetricExport) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	report, err := refinement.Run(ctx, m.options(conf))
	if err != nil {
		util.Fatalf("check: %v", err)
	}
	if len(report.Failures) > 0 {
		log.Warningf("%d of %d sequences diverged", len(report.Failures), report.Seeds)
	}

	written, err := metric.DefaultRegistry.Write(os.Stdout, metric.ExportOptions{Prefix: m.exporterPrefix})
	if err != nil {
		util.Fatalf("Cannot write metrics to stdout: %v", err)
	}
	log.Infof("Wrote %d bytes of Prometheus metric data to stdout", written)
	return subcommands.ExitSuccess
}
