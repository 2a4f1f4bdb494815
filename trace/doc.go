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

// Package trace defines the event sink that receives a per-attempt record
// of every HTTP exchange made by an httpconn.Client: the raw request and
// response bytes, the status line, transport-level errors and the reason a
// retry sequence was abandoned.
//
// Events are grouped by [TrailID], an opaque correlation identifier chosen
// by the caller (for example the identifier of the signalling transaction
// on whose behalf the request is made). A [Sink] is fire-and-forget: it must
// not block and any failure inside it is swallowed by the client.
//
// The verbosity of what a client emits is controlled by [Level]. At
// [LevelNone] only abort events are reported. [LevelProtocol] and
// [LevelDetail] both report every event and differ only in the Detail flag
// carried by the events, which sinks may use to pick a richer rendering.
package trace
