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
	"net/http"
	"time"

	"github.com/sigplane/httpconn/conn"
	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
)

// send performs req on h, trying the resolved targets in turn. It also
// returns the failures it counted, for tests.
func (c *Client) send(ctx context.Context, h *handle, req *Request) (*Response, retryCounts) {
	var counts retryCounts
	started := c.opts.clock.Now()
	if c.isClosed() {
		c.log.Error("cannot send request", zap.Error(ErrClientClosed))
		return &Response{Status: http.StatusInternalServerError}, counts
	}
	if c.opts.admitter != nil && !c.opts.admitter.Admit() {
		c.log.Warn("request not admitted", zap.Uint64("trail", uint64(req.Trail)))
		c.opts.metrics.ObserveRequest(http.StatusServiceUnavailable, c.opts.clock.Since(started))
		return &Response{Status: http.StatusServiceUnavailable}, counts
	}
	target := c.server
	if req.Server != "" {
		override, err := parseServer(req.Server, c.opts.scheme)
		if err != nil {
			c.log.Error("cannot send request", zap.Error(err))
			return &Response{Status: http.StatusBadRequest}, counts
		}
		target = override
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := target.url(c.opts.scheme, req.Path)
	header, correlationID := c.buildHeader(req)
	c.emit(func(sink trace.Sink) { sink.Marker(req.Trail, correlationID) })

	now := c.opts.clock.Now()
	recycle := h.isExpired(now)

	targets, err := c.opts.resolver.Resolve(ctx, target.host, target.port, c.opts.maxTargets, req.Trail)
	if err != nil {
		c.log.Debug("resolution failed", zap.String("host", target.host), zap.Error(err))
	}
	if !recycle {
		targets = c.preferConnected(targets, h.conn.PrimaryIP())
	}
	if len(targets) == 1 {
		targets = append(targets, targets[0])
	}

	// With nothing to try, the host could not be resolved.
	final := conn.Result{Kind: conn.ResolveFailed, Err: err}
	var finalIP string
	for _, candidate := range targets {
		attempt := conn.Attempt{
			Method:  method,
			URL:     url,
			Header:  header,
			Body:    req.Body,
			Target:  candidate,
			Fresh:   recycle,
			Capture: c.opts.traceLevel != trace.LevelNone,
		}
		c.log.Debug("sending request",
			zap.String("url", url),
			zap.Stringer("target", candidate),
			zap.Bool("recycle", recycle))
		timestamp := c.opts.clock.Now()
		result := h.conn.Do(ctx, attempt)
		final, finalIP = result, candidate.Address.String()
		c.report(req.Trail, attempt, timestamp, result)

		verdict := classify(result)
		c.opts.metrics.ObserveAttempt(verdict.String())
		if verdict == outcomeSuccess {
			if recycle {
				h.updateDeadline(now)
			}
			break
		}
		if recycle && result.Kind != conn.OK && result.Kind != conn.NotFound && result.Kind != conn.AccessDenied {
			c.opts.resolver.Blacklist(candidate)
			c.opts.metrics.ObserveBlacklist()
		}
		counts.record(verdict)
		if verdict == outcomeFatal || counts.exhausted() {
			reason := trace.Temporary
			if verdict == outcomeFatal {
				reason = trace.Permanent
			}
			detail := c.opts.traceLevel == trace.LevelDetail
			c.emit(func(sink trace.Sink) { sink.Abort(req.Trail, reason, detail) })
			c.opts.metrics.ObserveAbort(reason.String())
			break
		}
	}

	if counts.penalize() && c.opts.loadMonitor != nil {
		c.opts.loadMonitor.IncrementPenalties()
		c.opts.metrics.ObservePenalty()
	}

	if final.Kind == conn.OK {
		h.setRemoteIP(finalIP)
		if c.opts.commMonitor != nil {
			if counts.overloaded >= 2 {
				c.opts.commMonitor.InformFailure(now)
			} else {
				c.opts.commMonitor.InformSuccess(now)
			}
		}
	} else {
		h.setRemoteIP("")
		if c.opts.commMonitor != nil {
			c.opts.commMonitor.InformFailure(now)
		}
	}

	status := statusOf(final)
	if (final.Kind != conn.OK && final.Kind != conn.NotFound) || status >= http.StatusBadRequest {
		c.log.Error("request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Stringer("kind", final.Kind),
			zap.Int("status", status),
			zap.Error(final.Err))
	}
	c.opts.metrics.ObserveRequest(status, c.opts.clock.Since(started))

	resp := &Response{Status: status}
	if final.Kind == conn.OK {
		resp.Header = final.Header
		resp.Body = final.Body
	}
	return resp, counts
}

// preferConnected moves the resolved target with the address of the
// handle's open connection to the front, if there is one. The other
// targets keep their order.
func (c *Client) preferConnected(targets []resolver.Target, primaryIP string) []resolver.Target {
	if primaryIP == "" {
		return targets
	}
	addr, err := c.opts.resolver.ParseLiteral(primaryIP)
	if err != nil {
		return targets
	}
	for i, candidate := range targets {
		if candidate.Address != addr {
			continue
		}
		if i == 0 {
			return targets
		}
		reordered := make([]resolver.Target, 0, len(targets))
		reordered = append(reordered, candidate)
		reordered = append(reordered, targets[:i]...)
		return append(reordered, targets[i+1:]...)
	}
	return targets
}

// report passes the events of an attempt to the sink.
func (c *Client) report(trail trace.TrailID, attempt conn.Attempt, timestamp time.Time, result conn.Result) {
	if result.Kind != conn.OK {
		c.log.Error("request failed at server",
			zap.String("url", attempt.URL),
			zap.Stringer("target", attempt.Target),
			zap.Stringer("kind", result.Kind),
			zap.Error(result.Err))
	}
	if c.opts.traceLevel == trace.LevelNone {
		return
	}
	detail := c.opts.traceLevel == trace.LevelDetail
	if result.Sent {
		c.emit(func(sink trace.Sink) {
			sink.Request(trail, trace.RequestEvent{
				Timestamp: timestamp,
				Method:    attempt.Method,
				URL:       attempt.URL,
				Raw:       result.RawRequest,
				Endpoints: result.Endpoints,
				Detail:    detail,
			})
		})
	}
	if result.Kind == conn.OK {
		c.emit(func(sink trace.Sink) {
			sink.Response(trail, trace.ResponseEvent{
				Status:    result.Status,
				Method:    attempt.Method,
				URL:       attempt.URL,
				Raw:       result.RawResponse,
				Endpoints: result.Endpoints,
				Detail:    detail,
			})
		})
		return
	}
	c.emit(func(sink trace.Sink) {
		sink.Error(trail, trace.ErrorEvent{
			RemoteIP:   attempt.Target.Address.String(),
			RemotePort: attempt.Target.Port,
			Method:     attempt.Method,
			URL:        attempt.URL,
			Code:       result.Kind.String(),
			Err:        result.Err,
			Detail:     detail,
		})
	})
}

// emit calls the sink, containing any panic so that tracing can never
// fail a request.
func (c *Client) emit(fn func(trace.Sink)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("event sink panicked", zap.Any("panic", r))
		}
	}()
	fn(c.opts.sink)
}
