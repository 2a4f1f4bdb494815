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

package trace

import (
	"fmt"
	"strings"
	"time"
)

// TrailID correlates all events that belong to one logical transaction.
type TrailID uint64

// Level selects which events a client reports.
type Level int

const (
	// LevelNone reports only abort events.
	LevelNone Level = iota
	// LevelProtocol reports all events with Detail unset.
	LevelProtocol
	// LevelDetail reports all events with Detail set.
	LevelDetail
)

// ParseLevel converts "none", "protocol" or "detail" (case-insensitive)
// into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "", "protocol":
		return LevelProtocol, nil
	case "detail":
		return LevelDetail, nil
	default:
		return LevelNone, fmt.Errorf("unknown trace level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelProtocol:
		return "protocol"
	case LevelDetail:
		return "detail"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// AbortReason says why a client stopped trying further targets.
type AbortReason int

const (
	// Permanent means the peer rejected the request in a way another
	// target would not fix.
	Permanent AbortReason = iota
	// Temporary means too many overload or timeout failures were seen.
	Temporary
)

func (r AbortReason) String() string {
	if r == Permanent {
		return "permanent"
	}
	return "temporary"
}

// Endpoints are the two ends of the connection an exchange used. Any of
// the fields may be empty or zero when the transport could not tell.
type Endpoints struct {
	RemoteIP   string
	RemotePort int
	LocalIP    string
	LocalPort  int
}

// RequestEvent records a request that actually reached the wire.
type RequestEvent struct {
	// Timestamp is taken just before the exchange started, so the request
	// is ordered correctly against events logged while it was in flight.
	Timestamp time.Time
	Method    string
	URL       string
	Raw       []byte
	Endpoints Endpoints
	Detail    bool
}

// ResponseEvent records a response status line and its raw bytes.
type ResponseEvent struct {
	Status    int
	Method    string
	URL       string
	Raw       []byte
	Endpoints Endpoints
	Detail    bool
}

// ErrorEvent records an attempt that failed below the HTTP layer.
type ErrorEvent struct {
	RemoteIP   string
	RemotePort int
	Method     string
	URL        string
	Code       string
	Err        error
	Detail     bool
}

// Sink receives events. Implementations must be safe for concurrent use
// and must not block.
type Sink interface {
	// Marker associates a correlation token with the trail.
	Marker(trail TrailID, correlationID string)
	Request(trail TrailID, event RequestEvent)
	Response(trail TrailID, event ResponseEvent)
	Error(trail TrailID, event ErrorEvent)
	Abort(trail TrailID, reason AbortReason, detail bool)
}

//nolint:gochecknoglobals
var (
	// NopSink discards every event.
	NopSink Sink = nopSink{}
)

type nopSink struct{}

func (nopSink) Marker(TrailID, string)           {}
func (nopSink) Request(TrailID, RequestEvent)    {}
func (nopSink) Response(TrailID, ResponseEvent)  {}
func (nopSink) Error(TrailID, ErrorEvent)        {}
func (nopSink) Abort(TrailID, AbortReason, bool) {}
