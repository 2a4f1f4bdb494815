// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats holds the statistics an httpconn.Client keeps about its
// connections and requests.
//
// An [IPCountTable] counts how many live connections a client holds to each
// remote IP address. Clients update it under a mutex of their own, so
// implementations see at most one update at a time per client.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IPCountTable counts live connections per remote IP address.
type IPCountTable interface {
	Increment(ip string)
	// Decrement returns the count remaining for ip.
	Decrement(ip string) int
	Remove(ip string)
}

// MemoryIPCountTable is an IPCountTable kept in a map.
type MemoryIPCountTable struct {
	mu sync.Mutex
	// +checklocks:mu
	counts map[string]int
}

var _ IPCountTable = (*MemoryIPCountTable)(nil)

// NewIPCountTable creates an empty MemoryIPCountTable.
func NewIPCountTable() *MemoryIPCountTable {
	return &MemoryIPCountTable{counts: map[string]int{}}
}

func (t *MemoryIPCountTable) Increment(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ip]++
}

func (t *MemoryIPCountTable) Decrement(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ip]--
	return t.counts[ip]
}

func (t *MemoryIPCountTable) Remove(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, ip)
}

// Snapshot returns a copy of the current counts.
func (t *MemoryIPCountTable) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]int, len(t.counts))
	for ip, count := range t.counts {
		snapshot[ip] = count
	}
	return snapshot
}

// PrometheusIPCountTable is an IPCountTable exported as a prometheus gauge
// with one "ip" label value per remote address. It is a
// [prometheus.Collector] and must be registered to be scraped.
type PrometheusIPCountTable struct {
	gauge *prometheus.GaugeVec

	mu sync.Mutex
	// +checklocks:mu
	counts map[string]int
}

var (
	_ IPCountTable         = (*PrometheusIPCountTable)(nil)
	_ prometheus.Collector = (*PrometheusIPCountTable)(nil)
)

// NewPrometheusIPCountTable creates a table backed by a gauge built from
// opts. If opts has no Name, "connections" is used.
func NewPrometheusIPCountTable(opts prometheus.GaugeOpts) *PrometheusIPCountTable {
	if opts.Name == "" {
		opts.Name = "connections"
	}
	if opts.Help == "" {
		opts.Help = "Number of live connections per remote IP address"
	}
	return &PrometheusIPCountTable{
		gauge:  prometheus.NewGaugeVec(opts, []string{"ip"}),
		counts: map[string]int{},
	}
}

func (t *PrometheusIPCountTable) Increment(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ip]++
	t.gauge.WithLabelValues(ip).Set(float64(t.counts[ip]))
}

func (t *PrometheusIPCountTable) Decrement(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ip]--
	t.gauge.WithLabelValues(ip).Set(float64(t.counts[ip]))
	return t.counts[ip]
}

func (t *PrometheusIPCountTable) Remove(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, ip)
	t.gauge.DeleteLabelValues(ip)
}

// Describe implements prometheus.Collector.
func (t *PrometheusIPCountTable) Describe(ch chan<- *prometheus.Desc) {
	t.gauge.Describe(ch)
}

// Collect implements prometheus.Collector.
func (t *PrometheusIPCountTable) Collect(ch chan<- prometheus.Metric) {
	t.gauge.Collect(ch)
}
