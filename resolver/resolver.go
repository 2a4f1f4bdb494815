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
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sigplane/httpconn/internal"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBlacklistDuration = 30 * time.Second
	defaultBlacklistCapacity = 1024
	maxLookupTime            = 10 * time.Second
)

//nolint:gochecknoglobals
var (
	// ErrNoTargets is returned when a name resolves, but every address was
	// filtered out by the address family policy or the blacklist.
	ErrNoTargets = errors.New("no eligible targets")
	// ErrInvalidLiteral is returned by ParseLiteral for strings that are
	// not IPv4 or IPv6 literals.
	ErrInvalidLiteral = errors.New("invalid IP literal")
)

// Transport is the transport protocol of a Target.
type Transport uint8

const (
	// TCP is the only transport used for HTTP targets.
	TCP Transport = iota
)

func (t Transport) String() string {
	if t == TCP {
		return "tcp"
	}
	return "Transport(" + strconv.Itoa(int(t)) + ")"
}

// Target is one concrete network address a logical server name resolves
// to. Targets are comparable; two targets are equal when their address,
// port and transport are equal.
type Target struct {
	Address   netip.Addr
	Port      int
	Transport Transport
}

// HostPort renders the target in the form accepted by [net.Dial].
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Address.String(), strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.HostPort()
}

// Resolver is the name resolution contract of an httpconn.Client.
//
// Implementations must be safe for concurrent use.
type Resolver interface {
	// Resolve returns up to maxTargets targets for host:port, most
	// preferred first. The trail identifies the transaction on whose
	// behalf the lookup is made. An error or an empty result means the
	// name could not be resolved to anything usable.
	Resolve(ctx context.Context, host string, port, maxTargets int, trail trace.TrailID) ([]Target, error)
	// Blacklist reports that the target failed in a way that suggests it
	// is down. It should be avoided for a while.
	Blacklist(target Target)
	// ParseLiteral parses an IP literal, with or without square brackets.
	ParseLiteral(ip string) (netip.Addr, error)
}

// AddressFamilyPolicy is an option that allows control over the preference
// for which addresses to consider when resolving, based on their address
// family.
type AddressFamilyPolicy int

const (
	// PreferIPv4 will result in only IPv4 addresses being used, if any
	// IPv4 addresses are present. If no IPv4 addresses are resolved, then
	// all addresses will be used.
	PreferIPv4 AddressFamilyPolicy = iota

	// RequireIPv4 will result in only IPv4 addresses being used. If no IPv4
	// addresses are present, no addresses will be resolved.
	RequireIPv4

	// PreferIPv6 will result in only IPv6 addresses being used, if any
	// IPv6 addresses are present. If no IPv6 addresses are resolved, then
	// all addresses will be used.
	PreferIPv6

	// RequireIPv6 will result in only IPv6 addresses being used. If no IPv6
	// addresses are present, no addresses will be resolved.
	RequireIPv6

	// UseBothIPv4AndIPv6 will result in all addresses being used, regardless of
	// their address family.
	UseBothIPv4AndIPv6
)

// ParseAddressFamilyPolicy converts a configuration string into a policy.
// Accepted values are "prefer-ipv4", "require-ipv4", "prefer-ipv6",
// "require-ipv6" and "both". The empty string means PreferIPv4.
func ParseAddressFamilyPolicy(s string) (AddressFamilyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefer-ipv4":
		return PreferIPv4, nil
	case "require-ipv4":
		return RequireIPv4, nil
	case "prefer-ipv6":
		return PreferIPv6, nil
	case "require-ipv6":
		return RequireIPv6, nil
	case "both":
		return UseBothIPv4AndIPv6, nil
	default:
		return PreferIPv4, fmt.Errorf("unknown address family policy %q", s)
	}
}

func (p AddressFamilyPolicy) network() string {
	switch p {
	case RequireIPv4:
		return "ip4"
	case RequireIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

func (p AddressFamilyPolicy) filter(addresses []netip.Addr) []netip.Addr {
	switch p {
	case PreferIPv4, PreferIPv6:
		preferred := make([]netip.Addr, 0, len(addresses))
		for _, address := range addresses {
			if address.Is4() == (p == PreferIPv4) {
				preferred = append(preferred, address)
			}
		}
		if len(preferred) > 0 {
			return preferred
		}
		return addresses
	case RequireIPv4, RequireIPv6:
		required := make([]netip.Addr, 0, len(addresses))
		for _, address := range addresses {
			if address.Is4() == (p == RequireIPv4) {
				required = append(required, address)
			}
		}
		return required
	default:
		return addresses
	}
}

// DNSOption configures a resolver created by NewDNSResolver.
type DNSOption interface {
	apply(*DNSResolver)
}

type dnsOptionFunc func(*DNSResolver)

func (f dnsOptionFunc) apply(r *DNSResolver) {
	f(r)
}

// WithBlacklistDuration sets how long a blacklisted target is excluded from
// results. If not specified, 30 seconds is used.
func WithBlacklistDuration(duration time.Duration) DNSOption {
	return dnsOptionFunc(func(r *DNSResolver) {
		if duration > 0 {
			r.blacklistDuration = duration
		}
	})
}

// WithBlacklistCapacity bounds the number of targets remembered in the
// blacklist. If not specified, 1024 entries are kept.
func WithBlacklistCapacity(capacity int) DNSOption {
	return dnsOptionFunc(func(r *DNSResolver) {
		if capacity > 0 {
			r.blacklistCapacity = capacity
		}
	})
}

// WithLogger configures the logger used to report blacklisting.
func WithLogger(logger *zap.Logger) DNSOption {
	return dnsOptionFunc(func(r *DNSResolver) {
		if logger != nil {
			r.log = logger
		}
	})
}

// DNSResolver is the default Resolver. It is created by NewDNSResolver.
type DNSResolver struct {
	resolver          *net.Resolver
	policy            AddressFamilyPolicy
	blacklistDuration time.Duration
	blacklistCapacity int
	log               *zap.Logger
	clock             internal.Clock

	lookups   singleflight.Group
	blacklist *lru.Cache
}

var _ Resolver = (*DNSResolver)(nil)

// NewDNSResolver creates a new resolver that resolves DNS names using the
// given net.Resolver. The specified address family policy can be used to
// prefer or require either IPv4 or IPv6 addresses, in cases where there
// are both A and AAAA records.
func NewDNSResolver(
	resolver *net.Resolver,
	policy AddressFamilyPolicy,
	options ...DNSOption,
) *DNSResolver {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	res := &DNSResolver{
		resolver:          resolver,
		policy:            policy,
		blacklistDuration: defaultBlacklistDuration,
		blacklistCapacity: defaultBlacklistCapacity,
		log:               zap.NewNop(),
		clock:             internal.NewRealClock(),
	}
	for _, opt := range options {
		opt.apply(res)
	}
	// lru.New only fails for a non-positive size, which the options rule out.
	res.blacklist, _ = lru.New(res.blacklistCapacity)
	return res
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(
	ctx context.Context,
	host string,
	port, maxTargets int,
	trail trace.TrailID,
) ([]Target, error) {
	if addr, err := r.ParseLiteral(host); err == nil {
		// Literals are used as given, even if blacklisted: there is
		// nothing else to try.
		return []Target{{Address: addr, Port: port, Transport: TCP}}, nil
	}
	addresses, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	addresses = r.policy.filter(addresses)

	rnd := internal.NewRand()
	rnd.Shuffle(len(addresses), func(i, j int) {
		addresses[i], addresses[j] = addresses[j], addresses[i]
	})

	now := r.clock.Now()
	targets := make([]Target, 0, min(len(addresses), max(maxTargets, 0)))
	for _, address := range addresses {
		if len(targets) >= maxTargets {
			break
		}
		target := Target{Address: address, Port: port, Transport: TCP}
		if r.isBlacklisted(target, now) {
			continue
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		r.log.Debug("no eligible targets",
			zap.String("host", host),
			zap.Int("port", port),
			zap.Uint64("trail", uint64(trail)),
			zap.Int("resolved", len(addresses)))
		return nil, fmt.Errorf("resolve %s: %w", host, ErrNoTargets)
	}
	return targets, nil
}

// lookup returns a private copy of the de-duplicated, unmapped addresses
// for host. Concurrent lookups for the same host share one query, which
// is not cancelled when one of the callers gives up.
func (r *DNSResolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	network := r.policy.network()
	results := r.lookups.DoChan(network+"/"+host, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), maxLookupTime)
		defer cancel()
		return r.resolver.LookupNetIP(lookupCtx, network, host)
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result = <-results:
	}
	if result.Err != nil {
		return nil, result.Err
	}
	shared, _ := result.Val.([]netip.Addr)
	seen := make(map[netip.Addr]struct{}, len(shared))
	addresses := make([]netip.Addr, 0, len(shared))
	for _, address := range shared {
		address = address.Unmap()
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		addresses = append(addresses, address)
	}
	return addresses, nil
}

// Blacklist implements Resolver.
func (r *DNSResolver) Blacklist(target Target) {
	until := r.clock.Now().Add(r.blacklistDuration)
	r.blacklist.Add(target, until)
	r.log.Info("blacklisting target",
		zap.Stringer("target", target),
		zap.Duration("duration", r.blacklistDuration))
}

func (r *DNSResolver) isBlacklisted(target Target, now time.Time) bool {
	value, ok := r.blacklist.Peek(target)
	if !ok {
		return false
	}
	until, _ := value.(time.Time)
	if now.Before(until) {
		return true
	}
	r.blacklist.Remove(target)
	return false
}

// ParseLiteral implements Resolver.
func (r *DNSResolver) ParseLiteral(ip string) (netip.Addr, error) {
	return ParseLiteral(ip)
}

// ParseLiteral parses an IPv4 or IPv6 literal. IPv6 literals may be
// enclosed in square brackets. IPv4-mapped IPv6 addresses are unmapped.
func ParseLiteral(ip string) (netip.Addr, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ip), "["), "]")
	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, ip)
	}
	return addr.Unmap(), nil
}
