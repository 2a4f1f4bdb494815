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

package conn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 500 * time.Millisecond
	defaultIdleTimeout    = 90 * time.Second
)

//nolint:gochecknoglobals
var (
	// HTTPFactory creates handles backed by net/http.
	HTTPFactory Factory = FactoryFunc(func(options Options) Conn {
		return NewHTTPConn(options)
	})
)

type pinKey struct{}

// HTTPConn is a Conn backed by an [http.Transport] limited to one
// connection.
type HTTPConn struct {
	log     *zap.Logger
	dialer  *net.Dialer
	options Options

	transport *http.Transport
	client    *http.Client

	mu sync.Mutex
	// +checklocks:mu
	primaryIP string
}

var _ Conn = (*HTTPConn)(nil)

// NewHTTPConn creates a handle from the given options.
func NewHTTPConn(options Options) *HTTPConn {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = defaultIdleTimeout
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	httpConn := &HTTPConn{
		log:     options.Logger,
		dialer:  &net.Dialer{Timeout: options.ConnectTimeout},
		options: options,
	}
	httpConn.reset()
	return httpConn
}

// reset drops the current transport, and with it any kept-alive
// connection, so that the next exchange dials anew.
func (c *HTTPConn) reset() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	c.transport = &http.Transport{
		DialContext:         c.dial,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     c.options.IdleTimeout,
		TLSClientConfig:     c.options.TLSClientConfig,
		TLSHandshakeTimeout: c.options.ConnectTimeout,
	}
	c.client = &http.Client{
		Transport: c.transport,
		Timeout:   c.options.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Do implements Conn.
func (c *HTTPConn) Do(ctx context.Context, attempt Attempt) Result {
	target, err := url.Parse(attempt.URL)
	if err != nil || target.Host == "" {
		if err == nil {
			err = errors.New("URL has no host")
		}
		return Result{Kind: Malformed, Err: err}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return Result{Kind: Unsupported, Err: errors.New("unsupported URL scheme " + strconv.Quote(target.Scheme))}
	}

	pinned := attempt.Target.Address.IsValid()
	if attempt.Fresh || (pinned && attempt.Target.Address.String() != c.PrimaryIP()) {
		c.reset()
	}

	var body io.Reader
	if attempt.Body != nil {
		body = bytes.NewReader(attempt.Body)
	}
	if pinned {
		ctx = context.WithValue(ctx, pinKey{}, attempt.Target)
	}
	req, err := http.NewRequestWithContext(ctx, attempt.Method, attempt.URL, body)
	if err != nil {
		return Result{Kind: Malformed, Err: err}
	}
	for key, values := range attempt.Header {
		req.Header[key] = append([]string(nil), values...)
	}

	var result Result
	if attempt.Capture {
		// The dump runs a round trip of its own, so it must happen before
		// the trace hooks are attached. It restores req.Body after reading.
		result.RawRequest, _ = httputil.DumpRequestOut(req, true)
	}
	progress := &exchange{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), progress.clientTrace()))
	resp, err := c.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		result.Body, err = io.ReadAll(resp.Body)
	}
	progress.fill(&result)
	if result.Endpoints.RemoteIP != "" {
		c.mu.Lock()
		c.primaryIP = result.Endpoints.RemoteIP
		c.mu.Unlock()
	}
	if err != nil {
		result.Body = nil
		result.Kind = kindOf(err, result.Sent, progress.writeFailed())
		result.Err = err
		c.log.Debug("exchange failed",
			zap.String("url", attempt.URL),
			zap.Stringer("kind", result.Kind),
			zap.Error(err))
		return result
	}
	result.Kind = OK
	result.Status = resp.StatusCode
	result.Header = resp.Header
	if attempt.Capture {
		head, _ := httputil.DumpResponse(resp, false)
		result.RawResponse = append(head, result.Body...)
	}
	return result
}

// PrimaryIP implements Conn.
func (c *HTTPConn) PrimaryIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryIP
}

// Close implements Conn.
func (c *HTTPConn) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *HTTPConn) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if target, ok := ctx.Value(pinKey{}).(resolver.Target); ok {
		addr = target.HostPort()
	}
	netConn, err := c.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return netConn, nil
}

// exchange collects what the client trace hooks observe. The write hook
// runs on a transport goroutine, hence the lock.
type exchange struct {
	mu sync.Mutex
	// +checklocks:mu
	endpoints trace.Endpoints
	// +checklocks:mu
	reused bool
	// +checklocks:mu
	wrote bool
	// +checklocks:mu
	writeErr error
}

func (e *exchange) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.reused = info.Reused
			e.endpoints.RemoteIP, e.endpoints.RemotePort = splitAddr(info.Conn.RemoteAddr())
			e.endpoints.LocalIP, e.endpoints.LocalPort = splitAddr(info.Conn.LocalAddr())
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.wrote = true
			e.writeErr = info.Err
		},
	}
}

func (e *exchange) fill(result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result.Endpoints = e.endpoints
	result.Reused = e.reused
	result.Sent = e.wrote && e.writeErr == nil
}

func (e *exchange) writeFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrote && e.writeErr != nil
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ip := tcpAddr.AddrPort().Addr().Unmap()
		return ip.String(), tcpAddr.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	portNum, _ := strconv.Atoi(port)
	return host, portNum
}

func kindOf(err error, sent, writeFailed bool) Kind {
	var (
		dnsErr  *net.DNSError
		opErr   *net.OpError
		netErr  net.Error
		certErr *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &dnsErr):
		return ResolveFailed
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr) && netErr.Timeout():
		return Timeout
	case errors.As(err, &certErr):
		return Other
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ConnectFailed
	case writeFailed, !sent:
		return SendError
	default:
		return RecvError
	}
}
