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

// Package resolver turns a logical server name into an ordered list of
// concrete [Target] addresses and keeps a temporary blacklist of targets
// that recently failed to accept a connection.
//
// The [Resolver] interface is the contract consumed by httpconn.Client.
// A client re-resolves on every request, so implementations are free to
// return a different ordering each time; the default implementation
// deliberately shuffles results so that load spreads across all the
// addresses a name resolves to.
//
// # Default Implementation
//
// [NewDNSResolver] resolves names using a [net.Resolver]. It never caches
// answers itself (the client relies on fresh answers to notice changes),
// but concurrent lookups of the same name are coalesced into one query.
// Which address families are used is controlled by an
// [AddressFamilyPolicy]. IP literals are returned as-is without a lookup.
//
// Targets reported through Blacklist are excluded from results for a
// bounded cooldown (see [WithBlacklistDuration]), after which they become
// eligible again. The blacklist is bounded in size; when full, the least
// recently reported entries are forgotten first.
package resolver
