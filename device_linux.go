//go:build !rp2350

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
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// LinuxDevice runs the connectivity manager on a host whose operating
// system owns the radio and the TCP/IP stack. Association is reduced to
// watching the interface flags; the lease is the interface's IPv4 address.
type LinuxDevice struct {
	Interface string // network interface; "" for the first usable one
	Poll      time.Duration

	once  sync.Once
	radio *hostRadio
}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Initialize device
func InitDevice() Device {
	return NewLinuxDevice("")
}

// NewLinuxDevice for the given interface name ("" for auto-select).
func NewLinuxDevice(iface string) *LinuxDevice {
	return &LinuxDevice{Interface: iface, Poll: time.Second}
}

// Radio returns the interface watcher.
func (dev *LinuxDevice) Radio() Radio {
	dev.once.Do(func() {
		dev.radio = &hostRadio{iface: dev.Interface, poll: dev.Poll}
	})
	return dev.radio
}

// NewStack returns the host stack. The kernel provides transport
// randomness, so cfg.Seed is not used.
func (dev *LinuxDevice) NewStack(cfg StackConfig) (Stack, error) {
	if dev.Interface != "" {
		if _, err := net.InterfaceByName(dev.Interface); err != nil {
			return nil, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &hostStack{iface: dev.Interface, log: log}, nil
}

//----------------------------------------------------------------------

// hostLink inspects the interface: link state and first IPv4 address.
func hostLink(name string) (up bool, lease Lease, ok bool) {
	var ifaces []net.Interface
	if name != "" {
		ifc, err := net.InterfaceByName(name)
		if err != nil {
			return
		}
		ifaces = []net.Interface{*ifc}
	} else {
		var err error
		if ifaces, err = net.Interfaces(); err != nil {
			return
		}
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 && name == "" {
			continue
		}
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagRunning == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, isNet := a.(*net.IPNet)
			if !isNet {
				continue
			}
			ip, valid := netip.AddrFromSlice(ipn.IP)
			if !valid || !ip.Unmap().Is4() {
				continue
			}
			bits, _ := ipn.Mask.Size()
			if bits > 32 {
				bits -= 96
			}
			return true, Lease{Addr: ip.Unmap(), PrefixLen: bits}, true
		}
		if name != "" {
			return true, Lease{}, false
		}
	}
	return
}

// hostRadio treats an up-and-running interface as associated.
type hostRadio struct {
	iface   string
	poll    time.Duration
	started atomic.Bool

	mu   sync.Mutex
	cred Credentials
}

func (r *hostRadio) Start(ctx context.Context) error {
	if r.iface != "" {
		if _, err := net.InterfaceByName(r.iface); err != nil {
			return err
		}
	}
	r.started.Store(true)
	return nil
}

func (r *hostRadio) IsStarted() bool {
	return r.started.Load()
}

// Configure keeps the credentials; the host OS manages association.
func (r *hostRadio) Configure(cred Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred = cred
	return nil
}

func (r *hostRadio) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	return nil, errScanUnsupported
}

func (r *hostRadio) Connect(ctx context.Context) error {
	if !r.IsConnected() {
		return errNotAssociated
	}
	return nil
}

func (r *hostRadio) IsConnected() bool {
	up, _, _ := hostLink(r.iface)
	return up
}

func (r *hostRadio) WaitDisconnect(ctx context.Context) error {
	if err := poll(ctx, r.poll, func() bool { return !r.IsConnected() }); err != nil {
		return err
	}
	return errors.New("interface down")
}

//----------------------------------------------------------------------

// hostStack delegates to the kernel's TCP/IP stack.
type hostStack struct {
	iface string
	log   *slog.Logger
}

func (s *hostStack) LinkUp() bool {
	up, _, _ := hostLink(s.iface)
	return up
}

func (s *hostStack) Lease() (Lease, bool) {
	_, lease, ok := hostLink(s.iface)
	return lease, ok
}

// Pump has nothing to do: the kernel services frames and timers.
func (s *hostStack) Pump() (bool, error) {
	return false, nil
}

func (s *hostStack) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
}

func (s *hostStack) Dial(ctx context.Context, addr netip.AddrPort, bufs Buffers) (Socket, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, err
	}
	tc := c.(*net.TCPConn)
	if err = tc.SetReadBuffer(bufs.Rx); err == nil {
		err = tc.SetWriteBuffer(bufs.Tx)
	}
	if err != nil {
		s.log.Debug("socket buffers", slog.String("err", err.Error()))
	}
	return &hostSocket{TCPConn: tc}, nil
}

func (s *hostStack) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
}

// hostSocket is closed as soon as the kernel has taken over the close.
type hostSocket struct {
	*net.TCPConn
	closed atomic.Bool
}

func (c *hostSocket) Close() error {
	c.closed.Store(true)
	return c.TCPConn.Close()
}

func (c *hostSocket) IsClosed() bool {
	return c.closed.Load()
}

func (c *hostSocket) Abort() {
	_ = c.TCPConn.SetLinger(0)
	_ = c.Close()
}
