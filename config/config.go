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

// Package config loads the configuration of an httpconn client from a
// YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sigplane/httpconn"
	"github.com/sigplane/httpconn/monitor"
	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

//nolint:gochecknoglobals
var (
	// ErrInvalid is wrapped by every validation error returned by Load.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the configuration of one client.
type Config struct {
	// Server is "host" or "host:port".
	Server     string `yaml:"Server"`
	Scheme     string `yaml:"Scheme"`
	AssertUser bool   `yaml:"AssertUser"`
	// TargetLatency, when set, installs an admission limiter aiming at
	// this downstream latency as the client's load monitor.
	TargetLatency         time.Duration `yaml:"TargetLatency"`
	ConnectTimeout        time.Duration `yaml:"ConnectTimeout"`
	ConnectionAge         time.Duration `yaml:"ConnectionAge"`
	IdleConnectionTimeout time.Duration `yaml:"IdleConnectionTimeout"`
	MaxTargets            int           `yaml:"MaxTargets"`
	MaxIdleHandles        int           `yaml:"MaxIdleHandles"`
	// TraceLevel is "none", "protocol" or "detail".
	TraceLevel string `yaml:"TraceLevel"`
	// AddressFamily is one of "prefer-ipv4", "require-ipv4",
	// "prefer-ipv6", "require-ipv6" or "both".
	AddressFamily     string        `yaml:"AddressFamily"`
	BlacklistDuration time.Duration `yaml:"BlacklistDuration"`
	LogLevel          string        `yaml:"LogLevel"`
	LogPath           string        `yaml:"LogPath"`
}

// Default returns the configuration used for settings a file leaves out.
func Default() Config {
	return Config{
		Scheme:            "http",
		ConnectTimeout:    500 * time.Millisecond,
		ConnectionAge:     time.Minute,
		MaxTargets:        5,
		MaxIdleHandles:    64,
		TraceLevel:        "protocol",
		AddressFamily:     "prefer-ipv4",
		BlacklistDuration: 30 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads and validates the configuration at path. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("problem unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("%w: Server is required", ErrInvalid)
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("%w: Scheme must be http or https, not %q", ErrInvalid, c.Scheme)
	}
	for name, value := range map[string]time.Duration{
		"TargetLatency":         c.TargetLatency,
		"ConnectTimeout":        c.ConnectTimeout,
		"ConnectionAge":         c.ConnectionAge,
		"IdleConnectionTimeout": c.IdleConnectionTimeout,
		"BlacklistDuration":     c.BlacklistDuration,
	} {
		if value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
		}
	}
	if c.MaxTargets < 0 || c.MaxIdleHandles < 0 {
		return fmt.Errorf("%w: MaxTargets and MaxIdleHandles must not be negative", ErrInvalid)
	}
	if _, err := trace.ParseLevel(c.TraceLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := resolver.ParseAddressFamilyPolicy(c.AddressFamily); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// ClientOptions turns the configuration into options for
// httpconn.NewClient, with logger used by the client and its resolver.
func (c Config) ClientOptions(logger *zap.Logger) ([]httpconn.ClientOption, error) {
	level, err := trace.ParseLevel(c.TraceLevel)
	if err != nil {
		return nil, err
	}
	policy, err := resolver.ParseAddressFamilyPolicy(c.AddressFamily)
	if err != nil {
		return nil, err
	}
	dnsOptions := []resolver.DNSOption{resolver.WithLogger(logger)}
	if c.BlacklistDuration > 0 {
		dnsOptions = append(dnsOptions, resolver.WithBlacklistDuration(c.BlacklistDuration))
	}
	options := []httpconn.ClientOption{
		httpconn.WithLogger(logger),
		httpconn.WithScheme(c.Scheme),
		httpconn.WithResolver(resolver.NewDNSResolver(nil, policy, dnsOptions...)),
		httpconn.WithTraceLevel(level),
		httpconn.WithSink(trace.NewZapSink(logger)),
		httpconn.WithMaxTargets(c.MaxTargets),
		httpconn.WithConnectTimeout(c.ConnectTimeout),
		httpconn.WithConnectionAge(c.ConnectionAge),
		httpconn.WithIdleConnectionTimeout(c.IdleConnectionTimeout),
		httpconn.WithMaxIdleHandles(c.MaxIdleHandles),
	}
	if c.AssertUser {
		options = append(options, httpconn.WithAssertUser())
	}
	if c.TargetLatency > 0 {
		limiter := monitor.NewLimiter(monitor.LimiterConfig{TargetLatency: c.TargetLatency}, logger)
		options = append(options, httpconn.WithLoadMonitor(limiter), httpconn.WithAdmission(limiter))
	}
	return options, nil
}

// Logger builds a console logger at the configured level, or at debug
// level if debug is set. Output goes to LogPath when it is set.
func (c Config) Logger(debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.LogLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if debug {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil
	if c.LogPath != "" {
		cc.OutputPaths = []string{c.LogPath}
	}
	return cc.Build()
}
