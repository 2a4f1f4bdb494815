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

package stats_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sigplane/httpconn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIPCountTable(t *testing.T) {
	t.Parallel()

	table := stats.NewIPCountTable()
	table.Increment("10.0.0.1")
	table.Increment("10.0.0.1")
	table.Increment("10.0.0.2")
	assert.Equal(t, map[string]int{"10.0.0.1": 2, "10.0.0.2": 1}, table.Snapshot())

	assert.Equal(t, 1, table.Decrement("10.0.0.1"))
	assert.Equal(t, 0, table.Decrement("10.0.0.2"))
	table.Remove("10.0.0.2")
	assert.Equal(t, map[string]int{"10.0.0.1": 1}, table.Snapshot())
}

func TestPrometheusIPCountTable(t *testing.T) {
	t.Parallel()

	table := stats.NewPrometheusIPCountTable(prometheus.GaugeOpts{Namespace: "httpconn"})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(table))

	table.Increment("10.0.0.1")
	table.Increment("10.0.0.2")
	table.Increment("10.0.0.2")
	assert.Equal(t, 2, testutil.CollectAndCount(table))

	assert.Equal(t, 0, table.Decrement("10.0.0.1"))
	table.Remove("10.0.0.1")
	assert.Equal(t, 1, testutil.CollectAndCount(table))
	assert.Equal(t, 1, table.Decrement("10.0.0.2"))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	metrics := stats.NewMetrics("httpconn", "client")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics))

	metrics.ObserveRequest(200, 10*time.Millisecond)
	metrics.ObserveRequest(503, 20*time.Millisecond)
	metrics.ObserveAttempt("success")
	metrics.ObserveAbort("temporary")
	metrics.ObservePenalty()
	metrics.ObserveBlacklist()

	count, err := testutil.GatherAndCount(reg,
		"httpconn_client_requests_total",
		"httpconn_client_penalties_total",
		"httpconn_client_blacklisted_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	var nilMetrics *stats.Metrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveRequest(200, time.Millisecond)
		nilMetrics.ObservePenalty()
	})
}
