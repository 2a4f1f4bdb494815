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
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sigplane/httpconn/conn"
	"github.com/sigplane/httpconn/internal"
	"github.com/sigplane/httpconn/monitor"
	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/stats"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScheme         = "http"
	defaultMaxTargets     = 5
	defaultConnectTimeout = 500 * time.Millisecond
	defaultConnectionAge  = 60 * time.Second
	defaultMaxIdleHandles = 64

	// DefaultLatencyMicros is the target latency assumed when a client has
	// no load monitor.
	DefaultLatencyMicros = 500000

	timeoutLatencyMultiplier = 5
)

//nolint:gochecknoglobals
var (
	// ErrNoServer is returned by NewClient when the server is empty.
	ErrNoServer = errors.New("no server configured")
	// ErrInvalidServer is returned by NewClient when the server is not a
	// host optionally followed by a valid port.
	ErrInvalidServer = errors.New("invalid server")
	// ErrClientClosed is logged when a request is sent on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// RequestTimeout returns the limit on a whole exchange for a downstream
// target latency, in microseconds: five times the latency, but never less
// than a millisecond.
func RequestTimeout(latencyMicros int) time.Duration {
	millis := max(1, latencyMicros*timeoutLatencyMultiplier/1000)
	return time.Duration(millis) * time.Millisecond
}

// ClientOption is an option used to customize the behavior of a Client.
type ClientOption interface {
	apply(*clientOptions)
}

// WithScheme configures the URL scheme of requests, "http" or "https".
// If no such option is provided, "http" is used.
func WithScheme(scheme string) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.scheme = scheme
	})
}

// WithAssertUser makes the client assert the identity of the user a
// request is made for, in the X-XCAP-Asserted-Identity header.
func WithAssertUser() ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.assertUser = true
	})
}

// WithResolver configures how server names are resolved to addresses. If
// no such option is provided, a [resolver.DNSResolver] preferring IPv4
// addresses is used.
func WithResolver(res resolver.Resolver) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.resolver = res
	})
}

// WithLoadMonitor configures the load monitor that supplies the target
// latency and receives overload penalties.
func WithLoadMonitor(loadMonitor monitor.LoadMonitor) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.loadMonitor = loadMonitor
	})
}

// WithAdmission configures a check made before each request. A request
// that is not admitted fails with status 503 without being sent.
func WithAdmission(admitter monitor.Admitter) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.admitter = admitter
	})
}

// WithCommunicationMonitor configures the monitor informed of the outcome
// of every request.
func WithCommunicationMonitor(commMonitor monitor.CommunicationMonitor) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.commMonitor = commMonitor
	})
}

// WithIPCountTable configures the table that counts live connections per
// remote IP address.
func WithIPCountTable(table stats.IPCountTable) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.ipCounts = table
	})
}

// WithSink configures where request, response and error events are
// reported. If no such option is provided, events are discarded.
func WithSink(sink trace.Sink) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.sink = sink
	})
}

// WithTraceLevel configures which events are reported to the sink. If no
// such option is provided, trace.LevelProtocol is used.
func WithTraceLevel(level trace.Level) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.traceLevel = level
	})
}

// WithLogger configures the logger. If no such option is provided,
// nothing is logged.
func WithLogger(logger *zap.Logger) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.logger = logger
	})
}

// WithMetrics configures the counters updated by the client.
func WithMetrics(metrics *stats.Metrics) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.metrics = metrics
	})
}

// WithConnFactory configures how transport handles are created. If no
// such option is provided, conn.HTTPFactory is used.
func WithConnFactory(factory conn.Factory) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connFactory = factory
	})
}

// WithMaxTargets limits how many resolved addresses a single request may
// try. If zero or no such option is provided, 5 is used.
func WithMaxTargets(limit int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.maxTargets = limit
	})
}

// WithConnectTimeout limits the time spent establishing a connection to a
// single address. If zero or no such option is provided, 500 milliseconds
// is used.
func WithConnectTimeout(duration time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectTimeout = duration
	})
}

// WithConnectionAge configures the mean time between connection recycles.
// Recycles are scheduled as a Poisson process with this mean. If zero or
// no such option is provided, one minute is used.
func WithConnectionAge(duration time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectionAge = duration
	})
}

// WithMaxIdleHandles limits how many idle transport handles Client.Send
// keeps for reuse. If zero or no such option is provided, 64 is used.
func WithMaxIdleHandles(limit int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.maxIdleHandles = limit
	})
}

// WithTLSConfig adds custom TLS configuration for https servers.
func WithTLSConfig(config *tls.Config) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.tlsClientConfig = config
	})
}

// WithIdleConnectionTimeout configures how long an unused connection is
// kept open. It should be less than any idle limit the servers or
// intermediaries enforce.
func WithIdleConnectionTimeout(duration time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.idleConnTimeout = duration
	})
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) {
	f(opts)
}

type clientOptions struct {
	scheme          string
	assertUser      bool
	resolver        resolver.Resolver
	loadMonitor     monitor.LoadMonitor
	admitter        monitor.Admitter
	commMonitor     monitor.CommunicationMonitor
	ipCounts        stats.IPCountTable
	sink            trace.Sink
	traceLevel      trace.Level
	logger          *zap.Logger
	metrics         *stats.Metrics
	connFactory     conn.Factory
	clock           internal.Clock
	maxTargets      int
	connectTimeout  time.Duration
	connectionAge   time.Duration
	maxIdleHandles  int
	tlsClientConfig *tls.Config
	idleConnTimeout time.Duration
}

func (opts *clientOptions) applyDefaults() {
	if opts.scheme == "" {
		opts.scheme = defaultScheme
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.resolver == nil {
		opts.resolver = resolver.NewDNSResolver(nil, resolver.PreferIPv4, resolver.WithLogger(opts.logger))
	}
	if opts.sink == nil {
		opts.sink = trace.NopSink
	}
	if opts.connFactory == nil {
		opts.connFactory = conn.HTTPFactory
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
	if opts.maxTargets <= 0 {
		opts.maxTargets = defaultMaxTargets
	}
	if opts.connectTimeout <= 0 {
		opts.connectTimeout = defaultConnectTimeout
	}
	if opts.connectionAge <= 0 {
		opts.connectionAge = defaultConnectionAge
	}
	if opts.maxIdleHandles <= 0 {
		opts.maxIdleHandles = defaultMaxIdleHandles
	}
}

// Client sends requests to one logical server. It is safe for concurrent
// use.
type Client struct {
	opts   clientOptions
	log    *zap.Logger
	server server

	// ipCountsMu serializes updates of opts.ipCounts from all handles.
	ipCountsMu sync.Mutex

	mu sync.Mutex
	// +checklocks:mu
	idle []*handle
	// +checklocks:mu
	closed bool
}

// NewClient returns a client for the given server, a host name or IP
// address optionally followed by ":port". IPv6 addresses must be written
// in brackets. Without a port, the default port of the scheme is used.
func NewClient(serverName string, options ...ClientOption) (*Client, error) {
	opts := clientOptions{traceLevel: trace.LevelProtocol}
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	parsed, err := parseServer(serverName, opts.scheme)
	if err != nil {
		return nil, err
	}
	client := &Client{
		opts:   opts,
		log:    opts.logger.With(zap.String("server", parsed.name)),
		server: parsed,
	}
	client.log.Info("configured HTTP connection",
		zap.String("scheme", opts.scheme),
		zap.Duration("response_timeout", client.requestTimeout()))
	return client, nil
}

// Close releases the idle transport handles and makes further requests
// fail with status 500. Handles owned by workers are released by
// Worker.Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	idle := c.idle
	c.idle = nil
	c.mu.Unlock()

	var group errgroup.Group
	for _, h := range idle {
		group.Go(h.close)
	}
	return group.Wait()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) requestTimeout() time.Duration {
	latency := DefaultLatencyMicros
	if c.opts.loadMonitor != nil {
		latency = c.opts.loadMonitor.TargetLatencyMicros()
	}
	return RequestTimeout(latency)
}

func (c *Client) newHandle() *handle {
	return newHandle(c, c.opts.connFactory.New(conn.Options{
		Timeout:         c.requestTimeout(),
		ConnectTimeout:  c.opts.connectTimeout,
		IdleTimeout:     c.opts.idleConnTimeout,
		TLSClientConfig: c.opts.tlsClientConfig,
		Logger:          c.log,
	}))
}

// acquire takes the most recently used idle handle, whose connection is
// the most likely to still be open, or creates a new one.
func (c *Client) acquire() (*handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if n := len(c.idle); n > 0 {
		h := c.idle[n-1]
		c.idle[n-1] = nil
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()
	return c.newHandle(), nil
}

func (c *Client) release(h *handle) {
	c.mu.Lock()
	if c.closed || len(c.idle) >= c.opts.maxIdleHandles {
		c.mu.Unlock()
		_ = h.close()
		return
	}
	c.idle = append(c.idle, h)
	c.mu.Unlock()
}

// updateIPCounts moves one connection from the previous to the current
// remote IP in the connection count table. Either may be empty.
func (c *Client) updateIPCounts(previous, current string) {
	if c.opts.ipCounts == nil {
		return
	}
	c.ipCountsMu.Lock()
	defer c.ipCountsMu.Unlock()
	if previous != "" && c.opts.ipCounts.Decrement(previous) == 0 {
		c.opts.ipCounts.Remove(previous)
	}
	if current != "" {
		c.opts.ipCounts.Increment(current)
	}
}

// Worker sends requests on a transport handle of its own, reusing the
// handle's connection from call to call. A Worker must only be used by
// one goroutine at a time; it is meant to live as long as the goroutine
// that created it.
type Worker struct {
	client *Client
	handle *handle
}

// NewWorker creates a worker. Its transport handle is created on first
// use.
func (c *Client) NewWorker() *Worker {
	return &Worker{client: c}
}

// Close releases the worker's transport handle. The worker may be used
// again afterwards, with a new handle.
func (w *Worker) Close() error {
	if w.handle == nil {
		return nil
	}
	h := w.handle
	w.handle = nil
	return h.close()
}

type server struct {
	// name is the server as configured, used in logs.
	name string
	host string
	port int
}

// SplitServer returns the host and port a client created for serverName
// would connect to, using the default port of scheme when none is given.
func SplitServer(serverName, scheme string) (host string, port int, err error) {
	parsed, err := parseServer(serverName, scheme)
	return parsed.host, parsed.port, err
}

// parseServer splits "host", "host:port", "[v6]" or "[v6]:port". A
// missing port is replaced by the default port of the scheme.
func parseServer(serverName, scheme string) (server, error) {
	name := strings.TrimSpace(serverName)
	if name == "" {
		return server{}, ErrNoServer
	}
	host, port := name, 0
	bracketed := strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]")
	if idx := strings.LastIndexByte(name, ':'); !bracketed && idx >= 0 {
		host = name[:idx]
		var err error
		port, err = strconv.Atoi(name[idx+1:])
		if err != nil || port <= 0 || port > 65535 {
			return server{}, fmt.Errorf("%w: bad port in %q", ErrInvalidServer, serverName)
		}
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	} else if strings.ContainsAny(host, ":[]") {
		return server{}, fmt.Errorf("%w: IPv6 addresses must be in brackets in %q", ErrInvalidServer, serverName)
	}
	if host == "" {
		return server{}, fmt.Errorf("%w: no host in %q", ErrInvalidServer, serverName)
	}
	if port == 0 {
		port = 80
		if scheme == "https" {
			port = 443
		}
	}
	return server{name: name, host: host, port: port}, nil
}
