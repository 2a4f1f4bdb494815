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

package stats

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the request counters of a client. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	aborts      *prometheus.CounterVec
	penalties   prometheus.Counter
	blacklisted prometheus.Counter
	duration    prometheus.Histogram
}

var _ prometheus.Collector = (*Metrics)(nil)

// NewMetrics creates the client metrics under the given namespace and
// subsystem. The result must be registered to be scraped.
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Help:      "Number of requests completed, by final status code",
				Name:      "requests_total",
				Namespace: namespace,
				Subsystem: subsystem,
			},
			[]string{"code"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Help:      "Number of attempts made against individual targets, by outcome",
				Name:      "attempts_total",
				Namespace: namespace,
				Subsystem: subsystem,
			},
			[]string{"outcome"},
		),
		aborts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Help:      "Number of requests that stopped retrying early, by reason",
				Name:      "aborts_total",
				Namespace: namespace,
				Subsystem: subsystem,
			},
			[]string{"reason"},
		),
		penalties: prometheus.NewCounter(
			prometheus.CounterOpts{
				Help:      "Number of overload penalties reported to the load monitor",
				Name:      "penalties_total",
				Namespace: namespace,
				Subsystem: subsystem,
			},
		),
		blacklisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Help:      "Number of targets reported to the resolver blacklist",
				Name:      "blacklisted_total",
				Namespace: namespace,
				Subsystem: subsystem,
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Help:      "Time taken to complete a request, including retries",
				Name:      "request_duration_seconds",
				Namespace: namespace,
				Subsystem: subsystem,
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.attempts, m.aborts, m.penalties, m.blacklisted, m.duration}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObserveRequest records a completed request.
func (m *Metrics) ObserveRequest(status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.duration.Observe(took.Seconds())
}

// ObserveAttempt records the classified outcome of one attempt.
func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// ObserveAbort records a request that stopped retrying early.
func (m *Metrics) ObserveAbort(reason string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(reason).Inc()
}

// ObservePenalty records a penalty.
func (m *Metrics) ObservePenalty() {
	if m == nil {
		return
	}
	m.penalties.Inc()
}

// ObserveBlacklist records a blacklist report.
func (m *Metrics) ObserveBlacklist() {
	if m == nil {
		return
	}
	m.blacklisted.Inc()
}
