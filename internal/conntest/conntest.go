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

// Package conntest provides fakes of the collaborators of an httpconn
// client: transport handles, a resolver, monitors and an event sink. Each
// fake records how it was used so tests can make assertions about it.
package conntest

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/sigplane/httpconn/conn"
	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
)

// Responder decides the result of an attempt on a FakeConn.
type Responder func(fake *FakeConn, attempt conn.Attempt) conn.Result

// Status is a result carrying an HTTP status and body.
func Status(code int, body string) conn.Result {
	return conn.Result{
		Kind:   conn.OK,
		Status: code,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
		Sent:   true,
	}
}

// Failure is a result for a failure below the HTTP layer. The request is
// considered sent unless kind is a failure to connect or resolve.
func Failure(kind conn.Kind) conn.Result {
	sent := kind != conn.ConnectFailed && kind != conn.ResolveFailed
	return conn.Result{Kind: kind, Sent: sent, Err: errors.New("fake " + kind.String())}
}

// Script returns a Responder that hands out results in order, shared by
// all connections using it. Attempts beyond the end of the script fail
// with conn.Other.
func Script(results ...conn.Result) Responder {
	var mu sync.Mutex
	return func(*FakeConn, conn.Attempt) conn.Result {
		mu.Lock()
		defer mu.Unlock()
		if len(results) == 0 {
			return conn.Result{Kind: conn.Other, Err: errors.New("script exhausted")}
		}
		result := results[0]
		results = results[1:]
		return result
	}
}

// ByAddress returns a Responder that answers according to the address an
// attempt is pinned to. Addresses not in the map get a 200 response.
func ByAddress(results map[string]conn.Result) Responder {
	return func(_ *FakeConn, attempt conn.Attempt) conn.Result {
		if result, ok := results[attempt.Target.Address.String()]; ok {
			return result
		}
		return Status(http.StatusOK, "ok")
	}
}

// FakeConn is a conn.Conn that never touches the network. Its results
// come from the Responder of the FakeFactory that created it. Like a real
// handle, it remembers the address of its last exchange as its primary IP.
type FakeConn struct {
	Index   int
	respond Responder

	mu sync.Mutex
	// +checklocks:mu
	attempts []conn.Attempt
	// +checklocks:mu
	primaryIP string
	// +checklocks:mu
	closed int
}

var _ conn.Conn = (*FakeConn)(nil)

// Do implements conn.Conn.
func (c *FakeConn) Do(_ context.Context, attempt conn.Attempt) conn.Result {
	c.mu.Lock()
	c.attempts = append(c.attempts, attempt)
	c.mu.Unlock()

	result := c.respond(c, attempt)
	if attempt.Target.Address.IsValid() && (result.Kind == conn.OK || result.Sent) {
		c.mu.Lock()
		c.primaryIP = attempt.Target.Address.String()
		c.mu.Unlock()
		if result.Endpoints.RemoteIP == "" {
			result.Endpoints.RemoteIP = attempt.Target.Address.String()
			result.Endpoints.RemotePort = attempt.Target.Port
		}
	}
	return result
}

// PrimaryIP implements conn.Conn.
func (c *FakeConn) PrimaryIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryIP
}

// SetPrimaryIP makes the connection appear connected to ip.
func (c *FakeConn) SetPrimaryIP(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primaryIP = ip
}

// Close implements conn.Conn.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	c.primaryIP = ""
	return nil
}

// Attempts returns a snapshot of the attempts made so far.
func (c *FakeConn) Attempts() []conn.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]conn.Attempt(nil), c.attempts...)
}

// Closed reports how many times Close was called.
func (c *FakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeFactory is a conn.Factory creating FakeConns. It marks them with an
// index in sequential order, so the first connection created has an
// Index of 1.
type FakeFactory struct {
	respond Responder

	mu sync.Mutex
	// +checklocks:mu
	conns []*FakeConn
	// +checklocks:mu
	options []conn.Options
}

var _ conn.Factory = (*FakeFactory)(nil)

// NewFakeFactory creates a factory whose connections answer with respond.
func NewFakeFactory(respond Responder) *FakeFactory {
	return &FakeFactory{respond: respond}
}

// New implements conn.Factory.
func (f *FakeFactory) New(options conn.Options) conn.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	fake := &FakeConn{Index: len(f.conns) + 1, respond: f.respond}
	f.conns = append(f.conns, fake)
	f.options = append(f.options, options)
	return fake
}

// Conns returns the connections created so far.
func (f *FakeFactory) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// Options returns the options each connection was created with.
func (f *FakeFactory) Options() []conn.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conn.Options(nil), f.options...)
}

// Attempts returns every attempt made on any connection, in order of
// connection creation.
func (f *FakeFactory) Attempts() []conn.Attempt {
	var attempts []conn.Attempt
	for _, fake := range f.Conns() {
		attempts = append(attempts, fake.Attempts()...)
	}
	return attempts
}

// FakeResolver resolves every host to a fixed list of targets.
type FakeResolver struct {
	mu sync.Mutex
	// +checklocks:mu
	targets []resolver.Target
	// +checklocks:mu
	err error
	// +checklocks:mu
	resolved int
	// +checklocks:mu
	blacklisted []resolver.Target
}

var _ resolver.Resolver = (*FakeResolver)(nil)

// NewFakeResolver creates a resolver returning the given "ip:port"
// addresses, in order.
func NewFakeResolver(addrs ...string) *FakeResolver {
	res := &FakeResolver{}
	res.SetTargets(addrs...)
	return res
}

// SetTargets replaces the addresses returned. It panics on an address
// that is not an "ip:port" literal.
func (r *FakeResolver) SetTargets(addrs ...string) {
	targets := make([]resolver.Target, 0, len(addrs))
	for _, addr := range addrs {
		addrPort := netip.MustParseAddrPort(addr)
		targets = append(targets, resolver.Target{
			Address:   addrPort.Addr(),
			Port:      int(addrPort.Port()),
			Transport: resolver.TCP,
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = targets
}

// SetError makes Resolve fail with err.
func (r *FakeResolver) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Resolve implements resolver.Resolver. The host and port are ignored.
func (r *FakeResolver) Resolve(_ context.Context, _ string, _, maxTargets int, _ trace.TrailID) ([]resolver.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved++
	if r.err != nil {
		return nil, r.err
	}
	targets := append([]resolver.Target(nil), r.targets...)
	if len(targets) > maxTargets {
		targets = targets[:maxTargets]
	}
	return targets, nil
}

// Blacklist implements resolver.Resolver.
func (r *FakeResolver) Blacklist(target resolver.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklisted = append(r.blacklisted, target)
}

// ParseLiteral implements resolver.Resolver.
func (r *FakeResolver) ParseLiteral(ip string) (netip.Addr, error) {
	return resolver.ParseLiteral(ip)
}

// Resolved reports how many times Resolve was called.
func (r *FakeResolver) Resolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Blacklisted returns the targets reported so far.
func (r *FakeResolver) Blacklisted() []resolver.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resolver.Target(nil), r.blacklisted...)
}

// FakeLoadMonitor is a monitor.LoadMonitor with a fixed target latency.
type FakeLoadMonitor struct {
	LatencyMicros int

	mu sync.Mutex
	// +checklocks:mu
	penalties int
}

// TargetLatencyMicros implements monitor.LoadMonitor.
func (m *FakeLoadMonitor) TargetLatencyMicros() int {
	return m.LatencyMicros
}

// IncrementPenalties implements monitor.LoadMonitor.
func (m *FakeLoadMonitor) IncrementPenalties() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.penalties++
}

// Penalties reports how many penalties were received.
func (m *FakeLoadMonitor) Penalties() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.penalties
}

// FakeCommMonitor is a monitor.CommunicationMonitor that records what it
// is told.
type FakeCommMonitor struct {
	mu sync.Mutex
	// +checklocks:mu
	outcomes []bool
	// +checklocks:mu
	times []time.Time
}

// InformSuccess implements monitor.CommunicationMonitor.
func (m *FakeCommMonitor) InformSuccess(now time.Time) {
	m.inform(true, now)
}

// InformFailure implements monitor.CommunicationMonitor.
func (m *FakeCommMonitor) InformFailure(now time.Time) {
	m.inform(false, now)
}

func (m *FakeCommMonitor) inform(success bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, success)
	m.times = append(m.times, now)
}

// Outcomes returns true for every success and false for every failure
// reported, in order.
func (m *FakeCommMonitor) Outcomes() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.outcomes...)
}

// RecordingSink is a trace.Sink that keeps every event.
type RecordingSink struct {
	mu sync.Mutex
	// +checklocks:mu
	markers []string
	// +checklocks:mu
	requests []trace.RequestEvent
	// +checklocks:mu
	responses []trace.ResponseEvent
	// +checklocks:mu
	errors []trace.ErrorEvent
	// +checklocks:mu
	aborts []trace.AbortReason
}

var _ trace.Sink = (*RecordingSink)(nil)

func (s *RecordingSink) Marker(_ trace.TrailID, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, correlationID)
}

func (s *RecordingSink) Request(_ trace.TrailID, event trace.RequestEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, event)
}

func (s *RecordingSink) Response(_ trace.TrailID, event trace.ResponseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, event)
}

func (s *RecordingSink) Error(_ trace.TrailID, event trace.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, event)
}

func (s *RecordingSink) Abort(_ trace.TrailID, reason trace.AbortReason, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, reason)
}

// Markers returns the correlation tokens reported.
func (s *RecordingSink) Markers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.markers...)
}

// Requests returns the request events reported.
func (s *RecordingSink) Requests() []trace.RequestEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trace.RequestEvent(nil), s.requests...)
}

// Responses returns the response events reported.
func (s *RecordingSink) Responses() []trace.ResponseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trace.ResponseEvent(nil), s.responses...)
}

// Errors returns the error events reported.
func (s *RecordingSink) Errors() []trace.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trace.ErrorEvent(nil), s.errors...)
}

// Aborts returns the abort reasons reported.
func (s *RecordingSink) Aborts() []trace.AbortReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trace.AbortReason(nil), s.aborts...)
}
