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
	"math/rand"
	"time"

	"github.com/sigplane/httpconn/conn"
	"github.com/sigplane/httpconn/internal"
)

// handle is a transport handle together with the state the client keeps
// about its connection. A handle is owned by one goroutine at a time.
type handle struct {
	client *Client
	conn   conn.Conn
	rnd    *rand.Rand

	// recycleDeadline is when the connection should next be replaced.
	// The zero value means no recycle has been scheduled yet, which makes
	// the first request recycle. Once set, it only moves forward.
	recycleDeadline time.Time
	// remoteIP is the address of the last successful exchange, or "" if
	// the handle is not connected.
	remoteIP string
}

func newHandle(client *Client, transport conn.Conn) *handle {
	return &handle{
		client: client,
		conn:   transport,
		rnd:    internal.NewRand(),
	}
}

func (h *handle) isExpired(now time.Time) bool {
	return now.After(h.recycleDeadline)
}

// updateDeadline schedules the next recycle a random interval after the
// previous deadline, or after now if that deadline is unset or would
// already have passed. Scheduling from the previous deadline keeps the
// long-run mean interval equal to the configured connection age.
func (h *handle) updateDeadline(now time.Time) {
	interval := internal.ExpDuration(h.rnd, h.client.opts.connectionAge)
	next := h.recycleDeadline.Add(interval)
	if h.recycleDeadline.IsZero() || next.Before(now) {
		next = now.Add(interval)
	}
	h.recycleDeadline = next
}

func (h *handle) setRemoteIP(ip string) {
	if ip == h.remoteIP {
		return
	}
	h.client.updateIPCounts(h.remoteIP, ip)
	h.remoteIP = ip
}

func (h *handle) close() error {
	h.setRemoteIP("")
	return h.conn.Close()
}
