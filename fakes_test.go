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
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger logs to stderr when running verbose.
func testLogger(t *testing.T) *slog.Logger {
	level := slog.LevelError
	if testing.Verbose() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(slog.String("test", t.Name()))
}

// testConfig with short timings.
func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.SSID, cfg.Passwd = "panel-net", "secret-psk"
	cfg.RetryDelay = 30 * time.Millisecond
	cfg.GatePoll = 5 * time.Millisecond
	cfg.PumpIdle = time.Millisecond
	cfg.Tick = time.Millisecond
	cfg.Fetch.ReadTimeout = 2 * time.Second
	cfg.Fetch.ConnectTimeout = 2 * time.Second
	cfg.Fetch.Teardown = 200 * time.Millisecond
	cfg.Logger = testLogger(t)
	cfg.OnFatal = func(err error) { t.Errorf("unexpected fatal error: %v", err) }
	return cfg
}

var testLease = Lease{
	Addr:      netip.MustParseAddr("192.168.4.20"),
	PrefixLen: 24,
	Gateway:   netip.MustParseAddr("192.168.4.1"),
	DNS:       []netip.Addr{netip.MustParseAddr("192.168.4.1")},
}

//----------------------------------------------------------------------

// fakeRadio connects instantly unless connectErr is set; disconnects
// are injected with drop.
type fakeRadio struct {
	mu           sync.Mutex
	started      bool
	connected    bool
	connectErr   error
	failures     int // fail this many connects before succeeding
	configs      int
	scanMax      int
	aps          []AccessPoint
	connectTimes []time.Time

	disc chan error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{disc: make(chan error)}
}

func (r *fakeRadio) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *fakeRadio) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *fakeRadio) Configure(cred Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs++
	return nil
}

func (r *fakeRadio) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanMax = max
	return r.aps, nil
}

func (r *fakeRadio) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectTimes = append(r.connectTimes, time.Now())
	if r.connectErr != nil {
		return r.connectErr
	}
	if r.failures > 0 {
		r.failures--
		return errors.New("auth timeout")
	}
	r.connected = true
	return nil
}

func (r *fakeRadio) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeRadio) WaitDisconnect(ctx context.Context) error {
	select {
	case reason := <-r.disc:
		r.mu.Lock()
		r.connected = false
		r.mu.Unlock()
		return reason
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drop the association; blocks until the machine is waiting for it.
func (r *fakeRadio) drop(reason error) {
	r.disc <- reason
}

func (r *fakeRadio) attempts() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.connectTimes...)
}

//----------------------------------------------------------------------

// fakeStack has a settable link and lease; Dial is pluggable.
type fakeStack struct {
	mu    sync.Mutex
	link  bool
	lease *Lease
	hosts map[string]netip.Addr
	dial  func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)
	pump  func() (bool, error)

	dialed []netip.AddrPort
	socks  []*testSocket
}

func newFakeStack() *fakeStack {
	return &fakeStack{hosts: make(map[string]netip.Addr)}
}

// up sets link and lease together.
func (s *fakeStack) up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := testLease
	s.link, s.lease = true, &l
}

func (s *fakeStack) set(link bool, lease *Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link, s.lease = link, lease
}

func (s *fakeStack) LinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *fakeStack) Lease() (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return Lease{}, false
	}
	return *s.lease, true
}

func (s *fakeStack) Pump() (bool, error) {
	if s.pump != nil {
		return s.pump()
	}
	return false, nil
}

func (s *fakeStack) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.hosts[host]; ok {
		return []netip.Addr{a}, nil
	}
	return nil, errors.New("NXDOMAIN")
}

func (s *fakeStack) Dial(ctx context.Context, addr netip.AddrPort, bufs Buffers) (Socket, error) {
	s.mu.Lock()
	s.dialed = append(s.dialed, addr)
	dial := s.dial
	s.mu.Unlock()
	if dial == nil {
		return nil, errors.New("connection refused")
	}
	c, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	sock := &testSocket{Conn: c}
	s.mu.Lock()
	s.socks = append(s.socks, sock)
	s.mu.Unlock()
	return sock, nil
}

func (s *fakeStack) Listen(port uint16) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func (s *fakeStack) sockets() []*testSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*testSocket(nil), s.socks...)
}

// testSocket tracks teardown. With hold set, Close never completes.
type testSocket struct {
	net.Conn
	hold    bool
	closed  atomic.Bool
	aborted atomic.Bool
}

func (c *testSocket) Close() error {
	if !c.hold {
		c.closed.Store(true)
	}
	return c.Conn.Close()
}

func (c *testSocket) IsClosed() bool {
	return c.closed.Load()
}

func (c *testSocket) Abort() {
	c.aborted.Store(true)
	c.closed.Store(true)
}

//----------------------------------------------------------------------

type fakeDevice struct {
	radio Radio
	stack Stack
	err   error // returned by NewStack
	seed  uint64
}

func (d *fakeDevice) LED(on bool) {}

func (d *fakeDevice) Radio() Radio {
	return d.radio
}

func (d *fakeDevice) NewStack(cfg StackConfig) (Stack, error) {
	d.seed = cfg.Seed
	if d.err != nil {
		return nil, d.err
	}
	return d.stack, nil
}
