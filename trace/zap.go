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

package trace

import (
	"net/url"

	"go.uber.org/zap"
)

// NewZapSink returns a Sink that renders events as structured log entries.
// Request and response events are logged at debug level, errors at warn
// level and aborts at info level. Raw message bytes are only included for
// events carrying the Detail flag.
func NewZapSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapSink{log: logger.Named("trace")}
}

type zapSink struct {
	log *zap.Logger
}

func (s *zapSink) Marker(trail TrailID, correlationID string) {
	s.log.Debug("correlation marker",
		zap.Uint64("trail", uint64(trail)),
		zap.String("branch", correlationID))
}

func (s *zapSink) Request(trail TrailID, event RequestEvent) {
	fields := []zap.Field{
		zap.Uint64("trail", uint64(trail)),
		zap.Time("ts", event.Timestamp),
		zap.String("method", event.Method),
		zap.String("url", unescape(event.URL)),
		zap.String("remote_ip", event.Endpoints.RemoteIP),
		zap.Int("remote_port", event.Endpoints.RemotePort),
		zap.String("local_ip", event.Endpoints.LocalIP),
		zap.Int("local_port", event.Endpoints.LocalPort),
	}
	if event.Detail {
		fields = append(fields, zap.ByteString("raw", event.Raw))
	}
	s.log.Debug("http request sent", fields...)
}

func (s *zapSink) Response(trail TrailID, event ResponseEvent) {
	fields := []zap.Field{
		zap.Uint64("trail", uint64(trail)),
		zap.Int("status", event.Status),
		zap.String("method", event.Method),
		zap.String("url", unescape(event.URL)),
		zap.String("remote_ip", event.Endpoints.RemoteIP),
		zap.Int("remote_port", event.Endpoints.RemotePort),
	}
	if event.Detail {
		fields = append(fields, zap.ByteString("raw", event.Raw))
	}
	s.log.Debug("http response received", fields...)
}

func (s *zapSink) Error(trail TrailID, event ErrorEvent) {
	s.log.Warn("http request failed",
		zap.Uint64("trail", uint64(trail)),
		zap.String("remote_ip", event.RemoteIP),
		zap.Int("remote_port", event.RemotePort),
		zap.String("method", event.Method),
		zap.String("url", unescape(event.URL)),
		zap.String("code", event.Code),
		zap.Error(event.Err))
}

func (s *zapSink) Abort(trail TrailID, reason AbortReason, _ bool) {
	s.log.Info("http retries abandoned",
		zap.Uint64("trail", uint64(trail)),
		zap.Stringer("reason", reason))
}

func unescape(raw string) string {
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}
