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
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FetchStats of the request executor.
type FetchStats struct {
	OK       int
	Failed   int
	LastURL  string
	LastErr  error
	LastBody []byte
	LastTime time.Time
}

// fetcher executes one GET at a time over the stack.
type fetcher struct {
	stack    Stack
	cfg      FetchConfig
	gatePoll time.Duration
	tick     time.Duration
	rand     io.Reader // TLS randomness
	log      *slog.Logger

	mu    sync.Mutex
	stats FetchStats
}

func newFetcher(stack Stack, cfg Config, rand io.Reader, log *slog.Logger) *fetcher {
	return &fetcher{
		stack:    stack,
		cfg:      cfg.Fetch,
		gatePoll: cfg.GatePoll,
		tick:     cfg.Tick,
		rand:     rand,
		log:      log.With(slog.String("task", "http")),
	}
}

// Stats returns a copy of the counters.
func (f *fetcher) Stats() FetchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fetcher) record(url string, resp *Response, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.LastURL = url
	f.stats.LastErr = err
	f.stats.LastTime = time.Now()
	if err != nil {
		f.stats.Failed++
		return
	}
	f.stats.OK++
	f.stats.LastBody = bytes.Clone(resp.Body)
}

// ready blocks on the readiness gate if no lease is held.
func (f *fetcher) ready(ctx context.Context, log *slog.Logger) error {
	if _, ok := ready(f.stack); ok {
		return nil
	}
	_, err := waitReady(ctx, f.stack, f.gatePoll, log)
	return err
}

// do performs a single GET. Failures are returned, never retried.
func (f *fetcher) do(ctx context.Context, raw string) (resp *Response, err error) {
	log := f.log.With(slog.String("req", uuid.NewString()), slog.String("url", raw))
	defer func() {
		f.record(raw, resp, err)
		if err != nil {
			log.Error("request failed", slog.String("err", err.Error()))
		}
	}()
	t, err := parseTarget(raw)
	if err != nil {
		return nil, err
	}
	// buffers are owned by this call only
	tx := make([]byte, f.cfg.TxBufSize)
	rx := make([]byte, f.cfg.RxBufSize)
	req, err := appendRequest(tx, t, f.cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	if err = f.ready(ctx, log); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()
	addr, err := f.resolve(cctx, t.host)
	if err != nil {
		return nil, err
	}
	dst := netip.AddrPortFrom(addr, t.port)
	log.Debug("connecting", slog.String("addr", dst.String()))
	sock, err := f.stack.Dial(cctx, dst, Buffers{Tx: f.cfg.TxBufSize, Rx: f.cfg.RxBufSize})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	var conn net.Conn = sock
	defer func() {
		teardown(sock, conn, f.cfg.Teardown, f.tick, log)
	}()

	if t.secure {
		tc := tls.Client(sock, &tls.Config{
			ServerName:         t.host,
			InsecureSkipVerify: true, // see FetchConfig
			Rand:               f.rand,
			MinVersion:         tls.VersionTLS12,
		})
		if err = tc.HandshakeContext(cctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLS, err)
		}
		conn = tc
	}
	if _, err = conn.Write(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	n, err := readBounded(conn, rx, time.Now().Add(f.cfg.ReadTimeout), complete)
	if err != nil {
		return nil, err
	}
	if resp, err = parseResponse(rx[:n]); err != nil {
		return nil, err
	}
	log.Info("got response", slog.Int("status", resp.StatusCode), slog.Int("len", len(resp.Body)))
	if resp.StatusCode/100 != 2 {
		log.Warn("non-success status", slog.String("status", resp.Status))
	}
	return resp, nil
}

// resolve host to an IPv4 address; IP literals skip DNS.
func (f *fetcher) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("%w: not an IPv4 address: %s", ErrURL, host)
		}
		return addr, nil
	}
	addrs, err := f.stack.LookupNetIP(ctx, host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrDNS, host, err)
	}
	for _, a := range addrs {
		if a.Is4() || a.Is4In6() {
			return a.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %s: no ipv4 address", ErrDNS, host)
}
