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

package monitor

import (
	"fmt"
	"time"
)

// LoadMonitor is the admission-control view used by a client.
type LoadMonitor interface {
	// TargetLatencyMicros is the latency, in microseconds, that requests
	// are expected to complete within.
	TargetLatencyMicros() int
	// IncrementPenalties records that a downstream peer is overloaded.
	IncrementPenalties()
}

// Admitter decides whether a new request may start now.
type Admitter interface {
	Admit() bool
}

// CommunicationMonitor receives coarse per-request health signals.
type CommunicationMonitor interface {
	InformSuccess(now time.Time)
	InformFailure(now time.Time)
}

// State summarizes the outcome of communication over one window. Their
// natural ordering is for "better" states to be before "worse" states.
type State int

const (
	StateNoErrors   = State(0)
	StateSomeErrors = State(1)
	StateOnlyErrors = State(2)
)

func (s State) String() string {
	switch s {
	case StateNoErrors:
		return "no-errors"
	case StateSomeErrors:
		return "some-errors"
	case StateOnlyErrors:
		return "only-errors"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

func stateOf(succeeded, failed int64) State {
	switch {
	case succeeded == 0:
		return StateOnlyErrors
	case failed == 0:
		return StateNoErrors
	default:
		return StateSomeErrors
	}
}
