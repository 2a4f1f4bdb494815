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

package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctl := newApp()
	ctl.Writer = &out
	ctl.ErrWriter = io.Discard
	ctl.ExitErrHandler = func(*cli.Context, error) {}
	err := ctl.Run(append([]string{"httpprobe"}, args...))
	return out.String(), err
}

func TestSend(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(r.Method + " " + r.URL.Path + " " + string(body)))
	}))
	t.Cleanup(server.Close)
	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	out, err := runApp(t, "send", "--server", serverURL.Host,
		"-X", "PUT", "--path", "/impu/alice", "--body", `{"a":1}`, "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "200 PUT /impu/alice {\"a\":1}\n200 PUT /impu/alice {\"a\":1}\n", out)

	out, err = runApp(t, "send", "--server", serverURL.Host, "--path", "/missing")
	require.Error(t, err)
	assert.Equal(t, "404 \n", out)
}

func TestSendRejectsBadConfig(t *testing.T) {
	t.Parallel()
	_, err := runApp(t, "send")
	require.Error(t, err)
	_, err = runApp(t, "send", "--config", "/nonexistent/httpprobe.yaml", "--server", "localhost")
	require.Error(t, err)
}

func TestResolveLiteral(t *testing.T) {
	t.Parallel()
	out, err := runApp(t, "resolve", "--server", "127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080\n", out)
}
