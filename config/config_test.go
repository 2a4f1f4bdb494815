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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigplane/httpconn"
	"github.com/sigplane/httpconn/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "httpconn.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
Server: hss.example.com:8888
AssertUser: true
TargetLatency: 100ms
ConnectionAge: 2m
TraceLevel: detail
AddressFamily: both
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hss.example.com:8888", cfg.Server)
	assert.True(t, cfg.AssertUser)
	assert.Equal(t, 100*time.Millisecond, cfg.TargetLatency)
	assert.Equal(t, 2*time.Minute, cfg.ConnectionAge)
	assert.Equal(t, "detail", cfg.TraceLevel)
	assert.Equal(t, "both", cfg.AddressFamily)
	// Settings left out keep their defaults.
	assert.Equal(t, "http", cfg.Scheme)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 5, cfg.MaxTargets)
	assert.Equal(t, 30*time.Second, cfg.BlacklistDuration)

	options, err := cfg.ClientOptions(zaptest.NewLogger(t))
	require.NoError(t, err)
	client, err := httpconn.NewClient(cfg.Server, options...)
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	testCases := map[string]string{
		"missing server":    "Scheme: http\n",
		"bad scheme":        "Server: hss\nScheme: ftp\n",
		"unknown key":       "Server: hss\nServers: [a, b]\n",
		"bad trace level":   "Server: hss\nTraceLevel: verbose\n",
		"bad family":        "Server: hss\nAddressFamily: ipv5\n",
		"bad log level":     "Server: hss\nLogLevel: loud\n",
		"negative duration": "Server: hss\nConnectTimeout: -1s\n",
		"bad duration":      "Server: hss\nConnectTimeout: soon\n",
	}
	for name, contents := range testCases {
		contents := contents
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Load(writeConfig(t, contents))
			assert.Error(t, err)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = config.Load(writeConfig(t, "Server: hss\nMaxTargets: -1\n"))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLogger(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.LogLevel = "warn"
	cfg.LogPath = filepath.Join(t.TempDir(), "client.log")

	logger, err := cfg.Logger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	logger.Warn("written")
	_ = logger.Sync()
	data, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WARN")

	logger, err = cfg.Logger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
