// Copyright 2026 fanjia1024
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

// Package metrics is the observability shim: deterministic, test-readable
// counters and histograms backed by an in-process map, mirrored into a real
// Prometheus registry for production scraping. Every stage of the pipeline
// also emits structured "<stage>.<event>" log lines through LogEvent.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry is the process-wide Prometheus registry exposed over
// /metrics by cmd/server.
var DefaultRegistry = prometheus.NewRegistry()

// DefaultHistogramBuckets are Prometheus's own default buckets scaled from
// seconds to milliseconds; used whenever ObserveHistogram is called without
// an explicit bucket set.
var DefaultHistogramBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	mu       sync.Mutex
	counters = map[string]int64{}

	promMu       sync.Mutex
	promCounters = map[string]prometheus.Counter{}
)

// IncCounter increments the named deterministic counter by n. There is no
// default increment: every caller passes n explicitly.
func IncCounter(name string, n int64) {
	mu.Lock()
	counters[name] += n
	mu.Unlock()

	promCounter(name).Add(float64(n))
}

// GetCounter returns the current value of a deterministic counter; missing
// counters read as zero. Used directly by testable-property assertions
// (e.g. get_counter("events.idempotent_reuse") == 1).
func GetCounter(name string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return counters[name]
}

// GetCounters returns a snapshot of all counters as an unordered map.
func GetCounters() map[string]int64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// ResetCounters clears all deterministic counters. Test-only.
func ResetCounters() {
	mu.Lock()
	defer mu.Unlock()
	counters = map[string]int64{}
}

// ObserveHistogram records value under name, producing the synthetic
// counters histo.<name>.count, histo.<name>.sum, and histo.<name>.gt_<bucket>
// for each bucket value crossed, so tests can assert on histogram shape
// through the same GetCounter surface as plain counters.
func ObserveHistogram(name string, value float64, buckets ...float64) {
	if len(buckets) == 0 {
		buckets = DefaultHistogramBuckets
	}
	IncCounter(fmt.Sprintf("histo.%s.count", name), 1)
	IncCounter(fmt.Sprintf("histo.%s.sum", name), int64(value))
	for _, b := range buckets {
		if value > b {
			IncCounter(fmt.Sprintf("histo.%s.gt_%s", name, formatBucket(b)), 1)
		}
	}
}

func formatBucket(b float64) string {
	return strconv.FormatFloat(b, 'f', -1, 64)
}

// LogEvent emits a structured "<stage>.<event>" log line with the given
// key/value fields, matching the stable-field-name convention of the
// pipeline's observability surface.
func LogEvent(logger *slog.Logger, stage, event string, fields ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(stage+"."+event, fields...)
}

func promCounter(name string) prometheus.Counter {
	promMu.Lock()
	defer promMu.Unlock()
	if c, ok := promCounters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promSafeName(name),
		Help: "deterministic counter: " + name,
	})
	DefaultRegistry.MustRegister(c)
	promCounters[name] = c
	return c
}

func promSafeName(name string) string {
	out := make([]rune, 0, len(name)+8)
	out = append(out, []rune("ledger_")...)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// WritePrometheus writes the registry's metrics in Prometheus text format.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// SortedCounterNames returns the names of all recorded counters in
// lexicographic order. Used by the CLI's metrics dump.
func SortedCounterNames() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
