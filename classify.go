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
	"net/http"

	"github.com/sigplane/httpconn/conn"
)

// outcome is the classification of one attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeFatal stops retrying: another target would not do better.
	outcomeFatal
	outcomeOverloaded           // 503
	outcomeDownstreamOverloaded // 504
	outcomeTimeoutOrIO
	// outcomeOther counts toward nothing but using up the targets.
	outcomeOther
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFatal:
		return "fatal"
	case outcomeOverloaded:
		return "503"
	case outcomeDownstreamOverloaded:
		return "504"
	case outcomeTimeoutOrIO:
		return "timeout"
	default:
		return "other"
	}
}

func classify(result conn.Result) outcome {
	if result.Kind == conn.OK {
		switch {
		case result.Status < http.StatusBadRequest:
			return outcomeSuccess
		case result.Status == http.StatusServiceUnavailable:
			return outcomeOverloaded
		case result.Status == http.StatusGatewayTimeout:
			return outcomeDownstreamOverloaded
		default:
			return outcomeFatal
		}
	}
	switch result.Kind { //nolint:exhaustive
	case conn.NotFound, conn.AccessDenied:
		return outcomeFatal
	case conn.Timeout, conn.SendError, conn.RecvError:
		return outcomeTimeoutOrIO
	default:
		return outcomeOther
	}
}

// retryCounts are the failures seen by one call.
type retryCounts struct {
	overloaded           int
	downstreamOverloaded int
	timeoutsOrIO         int
}

func (c *retryCounts) record(o outcome) {
	switch o { //nolint:exhaustive
	case outcomeOverloaded:
		c.overloaded++
	case outcomeDownstreamOverloaded:
		c.downstreamOverloaded++
	case outcomeTimeoutOrIO:
		c.timeoutsOrIO++
	}
}

// exhausted reports whether further targets should not be tried.
func (c retryCounts) exhausted() bool {
	return c.overloaded+c.timeoutsOrIO >= 2 || c.downstreamOverloaded >= 1
}

// penalize reports whether the load monitor should be told the
// downstream is overloaded.
func (c retryCounts) penalize() bool {
	return c.overloaded >= 2 || c.downstreamOverloaded >= 1
}

// statusOf maps the final result of a call to the status returned to
// the caller.
func statusOf(result conn.Result) int {
	switch result.Kind { //nolint:exhaustive
	case conn.OK:
		return result.Status
	case conn.Malformed, conn.Unsupported:
		return http.StatusBadRequest
	case conn.NotFound, conn.ResolveFailed:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
