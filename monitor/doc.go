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

// Package monitor provides the health signal sinks an httpconn.Client
// reports to.
//
// A [LoadMonitor] supplies the latency target that bounds how long a client
// waits for a response, and receives penalties whenever a downstream peer
// reports overload. [Limiter] is an admission-control implementation that
// throttles its admission rate while penalties keep arriving and recovers
// it once they stop.
//
// A [CommunicationMonitor] receives a success or failure signal for each
// request. [CommMonitor] aggregates those signals over confirmation windows
// and raises an [Alarm] once communication has failed for a whole window,
// clearing it again once a success is seen.
package monitor
