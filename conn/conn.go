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

// Package conn provides the transport handle used by an httpconn client.
// A handle wraps at most one kept-alive network connection to a server and
// performs one HTTP exchange at a time. Each exchange is described by an
// immutable [Attempt] and produces a [Result] whose [Kind] tells the
// client's retry loop how the exchange ended, independent of the
// transport implementation that produced it.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
)

// Kind is the outcome of an exchange.
type Kind int

const (
	// OK means a response status line was received. The status itself may
	// still be an error status.
	OK Kind = iota
	// Timeout means the exchange did not finish within its deadline.
	Timeout
	// ConnectFailed means no connection could be established.
	ConnectFailed
	// SendError means the connection failed while writing the request.
	SendError
	// RecvError means the connection failed while reading the response.
	RecvError
	// ResolveFailed means the host name could not be resolved.
	ResolveFailed
	// NotFound means the remote end reported that the resource does not
	// exist at the transport level.
	NotFound
	// AccessDenied means the remote end refused access at the transport
	// level.
	AccessDenied
	// Malformed means the attempt could not be turned into a request.
	Malformed
	// Unsupported means the attempt needs a feature the transport lacks,
	// such as an unknown URL scheme.
	Unsupported
	// Other is any other failure below the HTTP layer.
	Other
)

//nolint:gochecknoglobals
var kindNames = [...]string{
	OK:            "ok",
	Timeout:       "timeout",
	ConnectFailed: "connect-failed",
	SendError:     "send-error",
	RecvError:     "recv-error",
	ResolveFailed: "resolve-failed",
	NotFound:      "not-found",
	AccessDenied:  "access-denied",
	Malformed:     "malformed",
	Unsupported:   "unsupported",
	Other:         "other",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Attempt describes a single exchange. It is built fresh for every try so
// nothing configured for one exchange carries over to the next.
type Attempt struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Target, when its address is valid, pins the connection to that
	// address instead of resolving the URL's host.
	Target resolver.Target
	// Fresh discards any kept-alive connection before the exchange.
	Fresh bool
	// Capture asks for the raw request and response bytes in the Result.
	Capture bool
}

// Result is the outcome of an Attempt.
type Result struct {
	Kind Kind
	// Status, Header and Body are only set when Kind is OK.
	Status int
	Header http.Header
	Body   []byte
	// Sent reports whether the request reached the wire.
	Sent bool
	// Reused reports whether a kept-alive connection was used.
	Reused    bool
	Endpoints trace.Endpoints
	// RawRequest and RawResponse are only set when the Attempt asked for
	// them with Capture.
	RawRequest  []byte
	RawResponse []byte
	Err         error
}

// Conn is a transport handle. It is not safe for concurrent exchanges;
// a caller owns a Conn for as long as it uses it.
type Conn interface {
	// Do performs one exchange. Failures are reported in the Result,
	// never as a panic.
	Do(ctx context.Context, attempt Attempt) Result
	// PrimaryIP is the remote IP of the most recent connection, or "" if
	// there was none.
	PrimaryIP() string
	// Close releases the kept-alive connection, if any.
	Close() error
}

// Options configure a Conn when it is created.
type Options struct {
	// Timeout bounds a whole exchange, including connecting. Zero means no
	// limit.
	Timeout time.Duration
	// ConnectTimeout bounds establishing a connection to one address.
	ConnectTimeout time.Duration
	// IdleTimeout closes a kept-alive connection that has not been used
	// for this long.
	IdleTimeout time.Duration
	// TLSClientConfig is used for https URLs.
	TLSClientConfig *tls.Config
	Logger          *zap.Logger
}

// Factory creates transport handles.
type Factory interface {
	New(options Options) Conn
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(options Options) Conn

// New implements Factory.
func (f FactoryFunc) New(options Options) Conn {
	return f(options)
}
