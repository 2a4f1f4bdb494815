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

package resolver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/sigplane/httpconn/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func TestAddressFamilyPolicy(t *testing.T) {
	t.Parallel()

	ip4Header := dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}
	ip6Header := dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeAAAA,
		Class: dnsmessage.ClassINET,
	}
	ip4Address1 := netip.MustParseAddr("10.0.0.100")
	ip4Address2 := netip.MustParseAddr("10.0.0.101")
	ip6Address1 := netip.MustParseAddr("fe80::1")
	ip6Address2 := netip.MustParseAddr("fe80::2")
	ip4Address1Resource := dnsmessage.Resource{
		Header: ip4Header,
		Body:   &dnsmessage.AResource{A: ip4Address1.As4()},
	}
	ip4Address2Resource := dnsmessage.Resource{
		Header: ip4Header,
		Body:   &dnsmessage.AResource{A: ip4Address2.As4()},
	}
	ip6Address1Resource := dnsmessage.Resource{
		Header: ip6Header,
		Body:   &dnsmessage.AAAAResource{AAAA: ip6Address1.As16()},
	}
	ip6Address2Resource := dnsmessage.Resource{
		Header: ip6Header,
		Body:   &dnsmessage.AAAAResource{AAAA: ip6Address2.As16()},
	}

	// Mixed A/AAAA records
	mixedDNSResolver := newFakeDNSResolver(t, []dnsmessage.Resource{
		ip4Address1Resource,
		ip6Address1Resource,
		ip4Address2Resource,
		ip6Address2Resource,
	})
	testResolveAddresses(t, NewDNSResolver(mixedDNSResolver, PreferIPv4), []netip.Addr{ip4Address1, ip4Address2})
	testResolveAddresses(t, NewDNSResolver(mixedDNSResolver, RequireIPv4), []netip.Addr{ip4Address1, ip4Address2})
	testResolveAddresses(t, NewDNSResolver(mixedDNSResolver, PreferIPv6), []netip.Addr{ip6Address1, ip6Address2})
	testResolveAddresses(t, NewDNSResolver(mixedDNSResolver, RequireIPv6), []netip.Addr{ip6Address1, ip6Address2})
	testResolveAddresses(t, NewDNSResolver(mixedDNSResolver, UseBothIPv4AndIPv6), []netip.Addr{ip4Address1, ip4Address2, ip6Address1, ip6Address2})

	// A records only
	ip4DNSResolver := newFakeDNSResolver(t, []dnsmessage.Resource{
		ip4Address1Resource,
		ip4Address2Resource,
	})
	testResolveAddresses(t, NewDNSResolver(ip4DNSResolver, PreferIPv6), []netip.Addr{ip4Address1, ip4Address2})
	testResolveAddresses(t, NewDNSResolver(ip4DNSResolver, RequireIPv6), nil)

	// AAAA records only
	ip6DNSResolver := newFakeDNSResolver(t, []dnsmessage.Resource{
		ip6Address1Resource,
		ip6Address2Resource,
	})
	testResolveAddresses(t, NewDNSResolver(ip6DNSResolver, PreferIPv4), []netip.Addr{ip6Address1, ip6Address2})
	testResolveAddresses(t, NewDNSResolver(ip6DNSResolver, RequireIPv4), nil)
}

func TestResolveLiteral(t *testing.T) {
	t.Parallel()

	res := NewDNSResolver(nil, PreferIPv4)
	targets, err := res.Resolve(context.Background(), "10.1.2.3", 8888, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []Target{{Address: netip.MustParseAddr("10.1.2.3"), Port: 8888, Transport: TCP}}, targets)

	targets, err = res.Resolve(context.Background(), "[::1]", 80, 5, 0)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "[::1]:80", targets[0].HostPort())

	// literals are never filtered by the blacklist
	res.Blacklist(targets[0])
	targets, err = res.Resolve(context.Background(), "::1", 80, 5, 0)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestResolveMaxTargets(t *testing.T) {
	t.Parallel()

	answers := make([]dnsmessage.Resource, 0, 8)
	for i := range 8 {
		answers = append(answers, dnsmessage.Resource{
			Header: dnsmessage.ResourceHeader{
				Name:  dnsmessage.MustNewName("example.com."),
				Type:  dnsmessage.TypeA,
				Class: dnsmessage.ClassINET,
			},
			Body: &dnsmessage.AResource{A: [4]byte{10, 0, 0, byte(i + 1)}},
		})
	}
	res := NewDNSResolver(newFakeDNSResolver(t, answers), RequireIPv4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	targets, err := res.Resolve(ctx, "example.com", 80, 5, 0)
	require.NoError(t, err)
	assert.Len(t, targets, 5)
	seen := map[Target]struct{}{}
	for _, target := range targets {
		seen[target] = struct{}{}
		assert.Equal(t, 80, target.Port)
		assert.Equal(t, TCP, target.Transport)
	}
	assert.Len(t, seen, 5)
}

func TestBlacklistCooldown(t *testing.T) {
	t.Parallel()

	header := dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}
	dns := newFakeDNSResolver(t, []dnsmessage.Resource{
		{Header: header, Body: &dnsmessage.AResource{A: [4]byte{10, 0, 0, 1}}},
		{Header: header, Body: &dnsmessage.AResource{A: [4]byte{10, 0, 0, 2}}},
	})
	testClock := clocktest.NewFakeClock()
	res := NewDNSResolver(dns, RequireIPv4, WithBlacklistDuration(time.Minute))
	res.clock = testClock

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	bad := Target{Address: netip.MustParseAddr("10.0.0.1"), Port: 80, Transport: TCP}
	good := Target{Address: netip.MustParseAddr("10.0.0.2"), Port: 80, Transport: TCP}
	res.Blacklist(bad)

	targets, err := res.Resolve(ctx, "example.com", 80, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []Target{good}, targets)

	// Blacklisting everything leaves nothing to return.
	res.Blacklist(good)
	_, err = res.Resolve(ctx, "example.com", 80, 5, 0)
	require.ErrorIs(t, err, ErrNoTargets)

	// Once the cooldown lapses, both are eligible again.
	testClock.Advance(time.Minute)
	targets, err = res.Resolve(ctx, "example.com", 80, 5, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Target{bad, good}, targets)
}

func TestParseLiteral(t *testing.T) {
	t.Parallel()

	addr, err := ParseLiteral("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)

	addr, err = ParseLiteral("[2001:db8::1]")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), addr)

	addr, err = ParseLiteral("::ffff:127.0.0.1")
	require.NoError(t, err)
	assert.True(t, addr.Is4())

	_, err = ParseLiteral("hs.example.com")
	require.ErrorIs(t, err, ErrInvalidLiteral)
}

func TestParseAddressFamilyPolicy(t *testing.T) {
	t.Parallel()

	for input, expected := range map[string]AddressFamilyPolicy{
		"":             PreferIPv4,
		"prefer-ipv4":  PreferIPv4,
		"REQUIRE-IPV4": RequireIPv4,
		"prefer-ipv6":  PreferIPv6,
		"require-ipv6": RequireIPv6,
		"both":         UseBothIPv4AndIPv6,
	} {
		policy, err := ParseAddressFamilyPolicy(input)
		require.NoError(t, err)
		assert.Equal(t, expected, policy, input)
	}
	_, err := ParseAddressFamilyPolicy("ipx")
	require.Error(t, err)
}

func TestResolveSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	dialer := &fakeDNSResolver{
		t: t,
		answers: []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{
				Name:  dnsmessage.MustNewName("example.com."),
				Type:  dnsmessage.TypeA,
				Class: dnsmessage.ClassINET,
			},
			Body: &dnsmessage.AResource{A: [4]byte{10, 0, 0, 1}},
		}},
		gate:   make(chan struct{}),
		dialed: make(chan struct{}, 1),
	}
	res := NewDNSResolver(&net.Resolver{PreferGo: true, Dial: dialer.Dial}, RequireIPv4)

	cancelledCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := res.Resolve(cancelledCtx, "example.com", 80, 5, 0)
		firstErr <- err
	}()
	select {
	case <-dialer.dialed:
	case <-time.After(5 * time.Second):
		t.Fatal("lookup never started")
	}
	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	secondTargets := make(chan []Target, 1)
	secondErr := make(chan error, 1)
	go func() {
		targets, err := res.Resolve(ctx, "example.com", 80, 5, 0)
		secondTargets <- targets
		secondErr <- err
	}()
	close(dialer.gate)
	require.NoError(t, <-secondErr)
	targets := <-secondTargets
	require.Len(t, targets, 1)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), targets[0].Address)
}

func testResolveAddresses(
	t *testing.T,
	resolver *DNSResolver,
	expectedAddresses []netip.Addr,
) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	targets, err := resolver.Resolve(ctx, "example.com", 8080, 5, 0)
	if len(expectedAddresses) == 0 {
		require.Error(t, err)
		assert.Empty(t, targets)
		return
	}
	require.NoError(t, err)
	actualAddresses := make([]netip.Addr, len(targets))
	for i, target := range targets {
		assert.Equal(t, 8080, target.Port)
		actualAddresses[i] = target.Address
	}
	assert.ElementsMatch(t, expectedAddresses, actualAddresses)
}

type fakeDNSResolver struct {
	t       *testing.T
	answers []dnsmessage.Resource
	// When gate is set, queries are held until it is closed. Each held
	// query is announced on dialed.
	gate   chan struct{}
	dialed chan struct{}
}

func (r *fakeDNSResolver) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	if r.gate != nil {
		select {
		case r.dialed <- struct{}{}:
		default:
		}
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	clientConn, serverConn := net.Pipe()
	go func() {
		var requestLength uint16
		if err := binary.Read(serverConn, binary.BigEndian, &requestLength); err != nil {
			r.t.Errorf("error reading dns request length: %v", err)
			return
		}
		requestData := make([]byte, requestLength)
		if _, err := io.ReadFull(serverConn, requestData); err != nil {
			r.t.Errorf("error reading dns request: %v", err)
			return
		}
		request := &dnsmessage.Message{}
		if err := request.Unpack(requestData); err != nil {
			r.t.Errorf("error unpacking dns request: %v", err)
			return
		}
		answers := []dnsmessage.Resource{}
		for _, answer := range r.answers {
			if answer.Header.Type == request.Questions[0].Type {
				answers = append(answers, answer)
			}
		}
		response := &dnsmessage.Message{
			Header: dnsmessage.Header{
				ID:            request.ID,
				Response:      true,
				RCode:         dnsmessage.RCodeSuccess,
				Authoritative: true,
			},
			Questions: request.Questions,
			Answers:   answers,
		}
		responseData, err := response.Pack()
		if err != nil {
			r.t.Errorf("error packing dns response: %v", err)
			return
		}
		responseLength := uint16(len(responseData))
		if err := binary.Write(serverConn, binary.BigEndian, &responseLength); err != nil {
			r.t.Errorf("error writing dns response length: %v", err)
			return
		}
		if _, err := serverConn.Write(responseData); err != nil {
			r.t.Errorf("error writing dns response: %v", err)
			return
		}
		if err := serverConn.Close(); err != nil {
			r.t.Errorf("error closing dns server connection: %v", err)
			return
		}
	}()
	return clientConn, nil
}

func newFakeDNSResolver(t *testing.T, answers []dnsmessage.Resource) *net.Resolver {
	t.Helper()

	dialer := fakeDNSResolver{
		t:       t,
		answers: answers,
	}
	return &net.Resolver{
		PreferGo: true,
		Dial:     dialer.Dial,
	}
}
