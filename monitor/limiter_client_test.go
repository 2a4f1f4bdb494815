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

package monitor_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sigplane/httpconn"
	"github.com/sigplane/httpconn/conn"
	"github.com/sigplane/httpconn/internal/clocktest"
	"github.com/sigplane/httpconn/internal/conntest"
	"github.com/sigplane/httpconn/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLimiterThrottlesOverloadedClient(t *testing.T) {
	t.Parallel()
	testClock := clocktest.NewFakeClock()
	lim := monitor.NewLimiter(monitor.LimiterConfig{
		MinRate:        1,
		MaxRate:        100,
		Burst:          1,
		AdjustInterval: time.Second,
		DecreaseFactor: 0.5,
	}, zaptest.NewLogger(t))
	lim.SetClock(testClock)
	factory := conntest.NewFakeFactory(func(*conntest.FakeConn, conn.Attempt) conn.Result {
		return conntest.Status(http.StatusServiceUnavailable, "busy")
	})
	client, err := httpconn.NewClient("hss.example.com",
		httpconn.WithConnFactory(factory),
		httpconn.WithResolver(conntest.NewFakeResolver("10.0.0.1:80", "10.0.0.2:80")),
		httpconn.WithLoadMonitor(lim),
		httpconn.WithAdmission(lim),
		httpconn.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	req := &httpconn.Request{Path: "/impi/alice"}

	// Two 503s penalize the load monitor.
	resp := client.Send(context.Background(), req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	require.Len(t, factory.Attempts(), 2)
	assert.InDelta(t, 100, lim.Rate(), 0.001)

	// The penalty lowers the rate once the interval has passed.
	testClock.Advance(time.Second)
	client.Send(context.Background(), req)
	require.Len(t, factory.Attempts(), 4)
	assert.InDelta(t, 50, lim.Rate(), 0.001)

	// The bucket is empty until time moves on: the request is not sent.
	resp = client.Send(context.Background(), req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Len(t, factory.Attempts(), 4)

	testClock.Advance(time.Second)
	client.Send(context.Background(), req)
	assert.Len(t, factory.Attempts(), 6)
	assert.InDelta(t, 25, lim.Rate(), 0.001)
}
