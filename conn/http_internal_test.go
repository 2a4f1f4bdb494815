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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAddr(t *testing.T) {
	t.Parallel()
	ip, port := splitAddr(&net.TCPAddr{IP: net.ParseIP("::ffff:10.0.0.1"), Port: 8080})
	assert.Equal(t, "10.0.0.1", ip)
	assert.Equal(t, 8080, port)

	ip, port = splitAddr(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"})
	assert.Equal(t, "/tmp/sock", ip)
	assert.Zero(t, port)

	ip, port = splitAddr(nil)
	assert.Empty(t, ip)
	assert.Zero(t, port)
}
