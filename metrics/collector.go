/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exports filex.Writer statistics to Prometheus.
//
// A Writer is driven by one goroutine while Prometheus scrapes from another,
// so the writer publishes snapshots into a Snapshot and the Collector reads
// the latest one:
//
//	var snap metrics.Snapshot
//	prometheus.MustRegister(metrics.NewCollector(snap.Load, metrics.DefaultConfig()))
//	...
//	w.Write(p)
//	snap.Store(w.Stats())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwego/filex"
)

// Config customizes metric names.
type Config struct {
	Namespace string
	Subsystem string

	// Labels are added to every metric, e.g. the file name.
	Labels prometheus.Labels
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{Namespace: "filex", Subsystem: "writer"}
}

// Snapshot holds the latest Stats of a Writer. It's safe for concurrent use.
type Snapshot struct {
	mu sync.Mutex
	st filex.Stats
}

// Store replaces the snapshot.
func (s *Snapshot) Store(st filex.Stats) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// Load returns the latest snapshot.
func (s *Snapshot) Load() filex.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(st *filex.Stats) float64
}

// Collector implements prometheus.Collector over a Stats source.
type Collector struct {
	source  func() filex.Stats
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector calling source on every scrape.
// source must be safe to call from any goroutine; Snapshot.Load is.
func NewCollector(source func() filex.Stats, cfg Config) *Collector {
	c := &Collector{source: source}
	counter := func(name, help string, v func(st *filex.Stats) float64) {
		c.add(cfg, name, help, prometheus.CounterValue, v)
	}
	gauge := func(name, help string, v func(st *filex.Stats) float64) {
		c.add(cfg, name, help, prometheus.GaugeValue, v)
	}

	counter("writes_total", "Calls to Write.",
		func(st *filex.Stats) float64 { return float64(st.Writes) })
	counter("bytes_total", "Bytes accepted by Write.",
		func(st *filex.Stats) float64 { return float64(st.Bytes) })
	counter("submits_total", "Asynchronous writes submitted.",
		func(st *filex.Stats) float64 { return float64(st.Submits) })
	counter("inline_completions_total", "Writes completed during submission.",
		func(st *filex.Stats) float64 { return float64(st.InlineCompletions) })
	counter("reclaims_total", "Buffers reclaimed after their write completed.",
		func(st *filex.Stats) float64 { return float64(st.Reclaims) })
	counter("blocking_waits_total", "Waits on a write that had not completed.",
		func(st *filex.Stats) float64 { return float64(st.BlockingWaits) })
	counter("drains_total", "Flushes of every outstanding write.",
		func(st *filex.Stats) float64 { return float64(st.Drains) })
	counter("dropped_total", "Chunks dropped after a failed write.",
		func(st *filex.Stats) float64 { return float64(st.Dropped) })
	counter("errors_total", "Failed writes.",
		func(st *filex.Stats) float64 { return float64(st.Errors) })

	gauge("buffers", "Allocated buffers.",
		func(st *filex.Stats) float64 { return float64(st.Buffers) })
	gauge("buffers_available", "Buffers ready to accept bytes.",
		func(st *filex.Stats) float64 { return float64(st.Available) })
	gauge("buffers_submitted", "Buffers with a write outstanding.",
		func(st *filex.Stats) float64 { return float64(st.Submitted) })
	gauge("position_bytes", "Logical file position.",
		func(st *filex.Stats) float64 { return float64(st.Position) })
	gauge("watermark_bytes", "Highest logical position reached.",
		func(st *filex.Stats) float64 { return float64(st.Watermark) })
	return c
}

func (c *Collector) add(cfg Config, name, help string, typ prometheus.ValueType, v func(st *filex.Stats) float64) {
	fq := prometheus.BuildFQName(cfg.Namespace, cfg.Subsystem, name)
	c.metrics = append(c.metrics, metric{
		desc:  prometheus.NewDesc(fq, help, nil, cfg.Labels),
		typ:   typ,
		value: v,
	})
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(&st))
	}
}
