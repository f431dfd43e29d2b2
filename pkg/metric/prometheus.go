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

package metric

import (
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// ExportOptions contains options that control how metrics are exported.
type ExportOptions struct {
	// Prefix is prepended to every exported metric name.
	Prefix string
}

// PrometheusName converts a metric name of the form /component/name into a
// Prometheus metric name.
func PrometheusName(prefix, name string) string {
	n := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
	if prefix == "" {
		return n
	}
	return prefix + "_" + n
}

// MetricFamily converts m into its Prometheus representation. Every field
// combination is one counter sample.
func (m *Uint64Metric) MetricFamily(options ExportOptions) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(PrometheusName(options.Prefix, m.name)),
		Help: proto.String(m.description),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, s := range m.Samples() {
		sample := &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(s.Value))},
		}
		// Labels follow field declaration order.
		for _, f := range m.fieldMapper.fields {
			sample.Label = append(sample.Label, &dto.LabelPair{
				Name:  proto.String(f.name),
				Value: proto.String(s.Fields[f.name]),
			})
		}
		mf.Metric = append(mf.Metric, sample)
	}
	return mf
}

// Write writes every metric of r to w in the Prometheus text exposition
// format, returning the number of bytes written.
func (r *Registry) Write(w io.Writer, options ExportOptions) (int, error) {
	total := 0
	for _, m := range r.Metrics() {
		n, err := expfmt.MetricFamilyToText(w, m.MetricFamily(options))
		total += n
		if err != nil {
			return total, fmt.Errorf("writing metric %q: %w", m.name, err)
		}
	}
	return total, nil
}
