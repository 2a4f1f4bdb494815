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
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
)

const (
	// CorrelationHeader carries a token, fresh for every request, that
	// downstream services log to correlate their traces with ours.
	CorrelationHeader = "X-SAS-HTTP-Branch-ID"
	// AssertedIdentityHeader carries the user a request is made for.
	AssertedIdentityHeader = "X-XCAP-Asserted-Identity"
)

// Request is one call to the client's server.
type Request struct {
	// Method defaults to GET.
	Method string
	// Path is the absolute path to request, starting with "/". It may
	// include a query.
	Path string
	// Body, if non-empty, is sent as application/json.
	Body []byte
	// Header holds extra headers, added to the request as is.
	Header http.Header
	// User is asserted as the identity the request is made for, when the
	// client was created with WithAssertUser.
	User string
	// Trail correlates the events reported for this request.
	Trail trace.TrailID
	// Server, if set, sends this request to another server than the one
	// the client was created for. It has the same form as the server
	// given to NewClient; a malformed Server yields status 400.
	Server string
}

// Response is the outcome of a Request. Status is always set; Header and
// Body are only set when a server answered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (s server) url(scheme, path string) string {
	return scheme + "://" + net.JoinHostPort(s.host, strconv.Itoa(s.port)) + path
}

// buildHeader returns the headers sent with every attempt of req, and the
// correlation token among them.
func (c *Client) buildHeader(req *Request) (http.Header, string) {
	header := make(http.Header, len(req.Header)+3)
	if len(req.Body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	correlationID := uuid.NewString()
	header.Set(CorrelationHeader, correlationID)
	for key, values := range req.Header {
		header[key] = append(header[key], values...)
	}
	if c.opts.assertUser && req.User != "" {
		header.Set(AssertedIdentityHeader, req.User)
	}
	return header, correlationID
}

// Send sends req on an idle transport handle of the client, creating one
// if none is idle.
func (c *Client) Send(ctx context.Context, req *Request) *Response {
	h, err := c.acquire()
	if err != nil {
		c.log.Error("cannot send request", zap.Error(err))
		return &Response{Status: http.StatusInternalServerError}
	}
	defer c.release(h)
	resp, _ := c.send(ctx, h, req)
	return resp
}

// Send sends req on the worker's transport handle.
func (w *Worker) Send(ctx context.Context, req *Request) *Response {
	if w.handle == nil {
		w.handle = w.client.newHandle()
	}
	resp, _ := w.client.send(ctx, w.handle, req)
	return resp
}

// Get requests path with extra headers.
func (c *Client) Get(ctx context.Context, path string, header http.Header, user string, trail trace.TrailID) *Response {
	return c.Send(ctx, &Request{Method: http.MethodGet, Path: path, Header: header, User: user, Trail: trail})
}

// Put sends body to path.
func (c *Client) Put(ctx context.Context, path string, body []byte, user string, trail trace.TrailID) *Response {
	return c.Send(ctx, &Request{Method: http.MethodPut, Path: path, Body: body, User: user, Trail: trail})
}

// Post sends body to path.
func (c *Client) Post(ctx context.Context, path string, body []byte, user string, trail trace.TrailID) *Response {
	return c.Send(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, User: user, Trail: trail})
}

// Delete deletes path. The body may be empty.
func (c *Client) Delete(ctx context.Context, path string, body []byte, trail trace.TrailID) *Response {
	return c.Send(ctx, &Request{Method: http.MethodDelete, Path: path, Body: body, Trail: trail})
}

// Get requests path with extra headers.
func (w *Worker) Get(ctx context.Context, path string, header http.Header, user string, trail trace.TrailID) *Response {
	return w.Send(ctx, &Request{Method: http.MethodGet, Path: path, Header: header, User: user, Trail: trail})
}

// Put sends body to path.
func (w *Worker) Put(ctx context.Context, path string, body []byte, user string, trail trace.TrailID) *Response {
	return w.Send(ctx, &Request{Method: http.MethodPut, Path: path, Body: body, User: user, Trail: trail})
}

// Post sends body to path.
func (w *Worker) Post(ctx context.Context, path string, body []byte, user string, trail trace.TrailID) *Response {
	return w.Send(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, User: user, Trail: trail})
}

// Delete deletes path. The body may be empty.
func (w *Worker) Delete(ctx context.Context, path string, body []byte, trail trace.TrailID) *Response {
	return w.Send(ctx, &Request{Method: http.MethodDelete, Path: path, Body: body, Trail: trail})
}
