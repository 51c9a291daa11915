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
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Radio returns the station-mode wireless driver.
	Radio() Radio

	// NewStack creates the packet-level network stack bound to the radio.
	NewStack(cfg StackConfig) (Stack, error)
}

// StackConfig is handed to Device.NewStack.
type StackConfig struct {
	// Seed for transport-layer randomness (ports, sequence numbers, DHCP xid).
	Seed uint64
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address; used as static IP if DHCP fails.
	RequestedIP string
	// Number of TCP ports to open for the stack (listener + client).
	TCPPorts uint16
	Logger   *slog.Logger
}

//----------------------------------------------------------------------

// Credentials of the wireless network. Immutable for the process lifetime.
type Credentials struct {
	SSID       string
	Passphrase string
}

// String hides the passphrase.
func (c Credentials) String() string {
	return fmt.Sprintf("ssid=%q passlen=%d", c.SSID, len(c.Passphrase))
}

// AccessPoint found during a scan (diagnostics only).
type AccessPoint struct {
	SSID    string
	BSSID   net.HardwareAddr
	Channel int
	RSSI    int
	Auth    string
}

// Radio is the station-mode wireless driver.
type Radio interface {
	// Start the radio. Blocks until the driver reports "started".
	Start(ctx context.Context) error
	// IsStarted reports whether the radio is running.
	IsStarted() bool
	// Configure (re-)applies the network credentials. A rejection
	// of the credentials must match ErrCredentials.
	Configure(cred Credentials) error
	// Scan for access points, returning at most max results.
	Scan(ctx context.Context, max int) ([]AccessPoint, error)
	// Connect associates with the configured network.
	Connect(ctx context.Context) error
	// IsConnected reports the association state of the driver.
	IsConnected() bool
	// WaitDisconnect blocks until the driver reports a disconnect and
	// returns the reason; it returns ctx.Err() when ctx is done.
	WaitDisconnect(ctx context.Context) error
}

//----------------------------------------------------------------------

// Lease is the IPv4 configuration assigned by DHCP (or the static fallback).
type Lease struct {
	Addr      netip.Addr
	PrefixLen int
	Gateway   netip.Addr   // invalid if unknown
	DNS       []netip.Addr // may be empty
	Duration  time.Duration
}

// Prefix of the leased network.
func (l Lease) Prefix() netip.Prefix {
	p, _ := l.Addr.Prefix(l.PrefixLen)
	return p
}

// NextHop returns the address to resolve on the link layer for dst:
// dst itself when on-link, the gateway otherwise.
func (l Lease) NextHop(dst netip.Addr) netip.Addr {
	if l.Prefix().Contains(dst) || !l.Gateway.IsValid() {
		return dst
	}
	return l.Gateway
}

// String returns a human-readable lease description.
func (l Lease) String() string {
	s := fmt.Sprintf("%s/%d", l.Addr, l.PrefixLen)
	if l.Gateway.IsValid() {
		s += " gw " + l.Gateway.String()
	}
	for _, d := range l.DNS {
		s += " dns " + d.String()
	}
	return s
}

// Buffers sizes a socket's fixed transmit and receive buffers.
type Buffers struct {
	Tx int
	Rx int
}

// Socket is an open TCP connection on a Stack.
type Socket interface {
	net.Conn

	// IsClosed reports whether a teardown started with Close has completed.
	IsClosed() bool
	// Abort releases the socket without waiting for the peer.
	Abort()
}

// Stack is the packet-level network stack.
type Stack interface {
	// LinkUp reports the link-layer state.
	LinkUp() bool
	// Lease returns the current lease, if any.
	Lease() (Lease, bool)
	// Pump services the stack once (frames, timers, DHCP). It reports
	// whether any work was done.
	Pump() (busy bool, err error)
	// LookupNetIP resolves a hostname to IPv4 addresses.
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
	// Dial opens a TCP connection with fixed-size buffers.
	Dial(ctx context.Context, addr netip.AddrPort, bufs Buffers) (Socket, error)
	// Listen for TCP connections on port.
	Listen(port uint16) (net.Listener, error)
}
