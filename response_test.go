//----------------------------------------------------------------------
// This file is part of panelnet.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// panelnet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// panelnet is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package panelnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tg, err := parseTarget("https://example.test/a/b?c=d")
	require.NoError(t, err)
	assert.Equal(t, target{secure: true, host: "example.test", port: 443, path: "/a/b?c=d", vhost: "example.test"}, tg)

	tg, err = parseTarget("HTTP://10.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, target{host: "10.0.0.1", port: 8080, path: "/", vhost: "10.0.0.1:8080"}, tg)

	for _, bad := range []string{"://", "gopher://x/", "http://x:0/", "http://x:70000/", "http:///"} {
		_, err := parseTarget(bad)
		assert.ErrorIs(t, err, ErrURL, bad)
	}
}

func TestAppendRequest(t *testing.T) {
	tg, err := parseTarget("https://example.test/clock")
	require.NoError(t, err)
	buf := make([]byte, 256)
	req, err := appendRequest(buf, tg, "panelnet")
	require.NoError(t, err)
	assert.Equal(t, "GET /clock HTTP/1.1\r\nHost: example.test\r\nUser-Agent: panelnet\r\nAccept: */*\r\nConnection: close\r\n\r\n", string(req))
	assert.Equal(t, &buf[0], &req[0], "request rendered in place")

	_, err = appendRequest(make([]byte, 16), tg, "panelnet")
	assert.ErrorIs(t, err, ErrRequestTooLarge)
}

func TestComplete(t *testing.T) {
	for _, tc := range []struct {
		msg  string
		want bool
	}{
		{"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n", false},
		{"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhel", false},
		{"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello", true},
		{"HTTP/1.1 200 OK\r\ncontent-length: 0\r\n\r\n", true},
		{"HTTP/1.1 204 No Content\r\n\r\n", true},
		{"HTTP/1.1 304 Not Modified\r\nETag: x\r\n\r\n", true},
		{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n", false},
		{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n", false},
		{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n", true},
		{"HTTP/1.0 200 OK\r\n\r\nuntil close", false},
		{"HTTP/1.1 103 Early Hints\r\nLink: </a.css>\r\n\r\n", false},
		{"HTTP/1.1 103 Early Hints\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhel", false},
		{"HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 103 Early Hints\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello", true},
		{"HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n", true},
	} {
		assert.Equal(t, tc.want, complete([]byte(tc.msg)), "%q", tc.msg)
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nX-Panel: 1\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Panel"))
	assert.Equal(t, "abcde", string(resp.Body))

	resp, err = parseResponse([]byte("HTTP/1.1 103 Early Hints\r\nLink: </a.css>\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Link"))
	assert.Equal(t, "hello", string(resp.Body))

	_, err = parseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort"))
	assert.ErrorIs(t, err, ErrResponse)

	_, err = parseResponse([]byte("garbage"))
	assert.ErrorIs(t, err, ErrResponse)
}
