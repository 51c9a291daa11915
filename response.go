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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// Response to a GET request.
type Response struct {
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// target of a request, derived from a URL.
type target struct {
	secure bool
	host   string // without port
	port   uint16
	path   string // path and query
	vhost  string // Host header
}

func parseTarget(raw string) (t target, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		t.secure, t.port = true, 443
	case "http":
		t.port = 80
	default:
		return t, fmt.Errorf("%w: unsupported scheme %q", ErrURL, u.Scheme)
	}
	if t.host = u.Hostname(); t.host == "" {
		return t, fmt.Errorf("%w: missing host", ErrURL)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return t, fmt.Errorf("%w: bad port %q", ErrURL, p)
		}
		t.port = uint16(n)
	}
	t.vhost = u.Host
	if t.path = u.RequestURI(); t.path == "" {
		t.path = "/"
	}
	return t, nil
}

// appendRequest renders the GET request into buf without growing it.
func appendRequest(buf []byte, t target, agent string) ([]byte, error) {
	req := fmt.Appendf(buf[:0],
		"GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nAccept: */*\r\nConnection: close\r\n\r\n",
		t.path, t.vhost, agent)
	if len(req) > len(buf) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRequestTooLarge, len(req), len(buf))
	}
	return req, nil
}

//----------------------------------------------------------------------

var headerEnd = []byte("\r\n\r\n")

// complete reports whether b holds a full response. Interim 1xx heads
// (except 101) are skipped. Responses framed only by connection close
// are never complete before EOF.
func complete(b []byte) bool {
	for {
		idx := bytes.Index(b, headerEnd)
		if idx < 0 {
			return false
		}
		head, body := b[:idx+4], b[idx+4:]

		tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(head)))
		status, err := tp.ReadLine()
		if err != nil {
			return false
		}
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return false
		}
		code := statusCode(status)
		switch {
		case code == http.StatusSwitchingProtocols:
			return true
		case code/100 == 1:
			b = body
			continue
		case code == http.StatusNoContent || code == http.StatusNotModified:
			return true
		}
		if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
			if !bytes.HasSuffix(body, headerEnd) {
				return false
			}
			_, err := io.Copy(io.Discard, httputil.NewChunkedReader(bytes.NewReader(body)))
			return err == nil
		}
		if cl := hdr.Get("Content-Length"); cl != "" {
			n, err := strconv.Atoi(cl)
			return err == nil && len(body) >= n
		}
		return false
	}
}

// statusCode of a status line; 0 if malformed.
func statusCode(line string) int {
	if f := strings.Fields(line); len(f) > 1 {
		if code, err := strconv.Atoi(f[1]); err == nil {
			return code
		}
	}
	return 0
}

// parseResponse decodes a buffered response, skipping interim 1xx
// responses. The body is copied.
func parseResponse(b []byte) (*Response, error) {
	rd := bufio.NewReader(bytes.NewReader(b))
	resp, err := http.ReadResponse(rd, nil)
	for err == nil && resp.StatusCode/100 == 1 && resp.StatusCode != http.StatusSwitchingProtocols {
		resp.Body.Close()
		resp, err = http.ReadResponse(rd, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrResponse, err)
	}
	return &Response{
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
