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

// Package httpconn provides a resilient HTTP client for calling peer
// services whose instances are reached through multi-address name
// resolution rather than a single fixed endpoint.
//
// To create a new client use the [NewClient] function with the name of
// the server, optionally followed by a port. The client turns a method,
// path and body into a completed HTTP exchange, trying each address the
// server name resolves to in turn until one of them answers, and always
// returns an HTTP status code: failures below the HTTP layer are mapped
// to 400, 404 or 500 instead of being returned as errors.
//
// # Connections
//
// Every exchange runs on a transport handle that keeps at most one
// connection open. A goroutine that sends many requests should create
// a [Worker] with [Client.NewWorker] and keep it for its lifetime, so that
// it reuses the same connection from call to call. [Client.Send] instead
// borrows a handle from a small pool of idle ones, so concurrent callers
// never share a connection.
//
// Connections are recycled on a randomized schedule with a mean of one
// minute (see [WithConnectionAge]) so that load rebalances after a failed
// server instance returns. A recycled connection that cannot even be
// established gets its address reported to the resolver's blacklist.
//
// # Retries
//
// The addresses of the server are resolved on every call, and at most
// five of them are tried (see [WithMaxTargets]). If the name resolves to
// a single address, that address is tried twice. The client stops early
// when retrying cannot help:
//
//  1. A status of 400 or above, other than 503 and 504, is returned to
//     the caller as is.
//
//  2. A single 504 stops retrying, since the overloaded server is one hop
//     further downstream.
//
//  3. Two failures that are either 503 responses or timeouts and I/O
//     errors stop retrying.
//
// When a call sees two 503 responses or a 504, the configured
// [monitor.LoadMonitor] receives a penalty.
package httpconn
