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

package httpconn

import (
	"context"
	"time"

	"github.com/sigplane/httpconn/internal"
)

type Counts struct {
	Overloaded           int
	DownstreamOverloaded int
	TimeoutsOrIO         int
}

func WithClock(clock internal.Clock) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.clock = clock
	})
}

func (w *Worker) SendCounted(ctx context.Context, req *Request) (*Response, Counts) {
	if w.handle == nil {
		w.handle = w.client.newHandle()
	}
	resp, counts := w.client.send(ctx, w.handle, req)
	return resp, Counts{
		Overloaded:           counts.overloaded,
		DownstreamOverloaded: counts.downstreamOverloaded,
		TimeoutsOrIO:         counts.timeoutsOrIO,
	}
}

func (w *Worker) RecycleDeadline() time.Time {
	return w.handle.recycleDeadline
}

func (w *Worker) SetRecycleDeadline(deadline time.Time) {
	if w.handle == nil {
		w.handle = w.client.newHandle()
	}
	w.handle.recycleDeadline = deadline
}

func (w *Worker) RemoteIP() string {
	return w.handle.remoteIP
}

func (c *Client) IdleHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}
