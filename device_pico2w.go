//go:build rp2350

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
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/eth/dns"
	"github.com/soypat/seqs/stacks"
)

const (
	mtu         = cyw43439.MTU
	dhcpTimeout = 8 * time.Second // then static IP or a fresh request
	arpTimeout  = time.Second     // ARP exchanges should be fast
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device // reference to device
	log   *slog.Logger
	radio *picoRadio

	once    sync.Once
	initErr error
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Initialize device
func InitDevice() Device {
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	dev.log = slog.Default()
	dev.radio = &picoRadio{dev: dev}
	return dev
}

// Radio returns the CYW43439 station.
func (dev *Pico2WDevice) Radio() Radio {
	return dev.radio
}

// init uploads the firmware to the chip (once).
func (dev *Pico2WDevice) init() error {
	dev.once.Do(func() {
		wificfg := cyw43439.DefaultWifiConfig()
		// wificfg.Logger = dev.log // Uncomment to see in depth info on wifi device functioning.
		dev.log.Info("initializing pico W device...")
		devInitTime := time.Now()
		if dev.initErr = dev.ref.Init(wificfg); dev.initErr != nil {
			return
		}
		dev.radio.started.Store(true)
		dev.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
	})
	return dev.initErr
}

// NewStack initializes the chip (the stack needs the MAC) and creates
// the seqs port stack with DHCP and DNS clients.
func (dev *Pico2WDevice) NewStack(cfg StackConfig) (Stack, error) {
	if cfg.Logger != nil {
		dev.log = cfg.Logger
	}
	if err := dev.init(); err != nil {
		return nil, fmt.Errorf("cyw43439 init: %w", err)
	}
	var reqAddr netip.Addr
	if cfg.RequestedIP != "" {
		var err error
		if reqAddr, err = netip.ParseAddr(cfg.RequestedIP); err != nil || !reqAddr.Is4() {
			return nil, fmt.Errorf("%w: requested ip %q", ErrConfig, cfg.RequestedIP)
		}
	}
	mac, err := dev.ref.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 2, // DHCP + DNS
		MaxOpenPortsTCP: int(cfg.TCPPorts),
		MTU:             mtu,
		Logger:          dev.log,
	})
	dev.ref.RecvEthHandle(stack.RecvEth)

	s := &picoStack{
		dev:     dev.ref,
		stack:   stack,
		dhcpc:   stacks.NewDHCPClient(stack, dhcp.DefaultClientPort),
		dnsc:    stacks.NewDNSClient(stack, dns.ClientPort),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		reqAddr: reqAddr,
		host:    cfg.Hostname,
		log:     dev.log,
	}
	s.nic.dev, s.nic.stack = dev.ref, stack
	return s, nil
}

//----------------------------------------------------------------------

// picoRadio drives CYW43439 association.
type picoRadio struct {
	dev     *Pico2WDevice
	started atomic.Bool

	mu   sync.Mutex
	cred Credentials
}

func (r *picoRadio) Start(ctx context.Context) error {
	return r.dev.init()
}

func (r *picoRadio) IsStarted() bool {
	return r.started.Load()
}

// Configure validates the credentials the way the driver would
// reject them: SSID 1..32 bytes, WPA2 passphrase 8..63 characters
// (empty for an open network).
func (r *picoRadio) Configure(cred Credentials) error {
	if n := len(cred.SSID); n == 0 || n > 32 {
		return fmt.Errorf("%w: ssid length %d", ErrCredentials, n)
	}
	if n := len(cred.Passphrase); n != 0 && (n < 8 || n > 63) {
		return fmt.Errorf("%w: passphrase length %d", ErrCredentials, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred = cred
	return nil
}

// Scan is not offered by the driver.
func (r *picoRadio) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	return nil, errScanUnsupported
}

// Connect joins the network. The driver call blocks; ctx is checked
// before the join only.
func (r *picoRadio) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	cred := r.cred
	r.mu.Unlock()
	log := r.dev.log
	if len(cred.Passphrase) == 0 {
		log.Info("joining open network:", slog.String("ssid", cred.SSID))
	} else {
		log.Info("joining WPA secure network", slog.String("ssid", cred.SSID), slog.Int("passlen", len(cred.Passphrase)))
	}
	if err := r.dev.ref.JoinWPA2(cred.SSID, cred.Passphrase); err != nil {
		return fmt.Errorf("wifi join failed: %w", err)
	}
	mac, _ := r.dev.ref.HardwareAddr6()
	log.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))
	return nil
}

func (r *picoRadio) IsConnected() bool {
	return r.dev.ref.IsLinkUp()
}

func (r *picoRadio) WaitDisconnect(ctx context.Context) error {
	if err := poll(ctx, 500*time.Millisecond, func() bool { return !r.IsConnected() }); err != nil {
		return err
	}
	return errors.New("link down")
}

//----------------------------------------------------------------------

// picoStack is the seqs port stack on the CYW43439 NIC.
type picoStack struct {
	dev     *cyw43439.Device
	stack   *stacks.PortStack
	dhcpc   *stacks.DHCPClient
	dnsc    *stacks.DNSClient
	nic     nic
	reqAddr netip.Addr
	host    string
	log     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu         sync.Mutex
	lease      Lease
	leased     bool
	dhcpActive bool
	dhcpStart  time.Time
}

func (s *picoStack) random() uint32 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Uint32()
}

func (s *picoStack) LinkUp() bool {
	return s.dev.IsLinkUp()
}

func (s *picoStack) Lease() (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease, s.leased
}

// Pump runs DHCP housekeeping and one NIC iteration.
func (s *picoStack) Pump() (bool, error) {
	s.manageLease()
	return s.nic.step()
}

// manageLease keeps the DHCP client in step with the link.
func (s *picoStack) manageLease() {
	up := s.dev.IsLinkUp()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !up:
		if s.dhcpActive || s.leased {
			s.dhcpc.Abort()
			s.stack.SetAddr(netip.Addr{})
			s.dhcpActive, s.leased = false, false
			s.lease = Lease{}
			s.log.Warn("link down, lease dropped")
		}
	case s.leased:
	case !s.dhcpActive:
		err := s.dhcpc.BeginRequest(stacks.DHCPRequestConfig{
			RequestedAddr: s.reqAddr,
			Xid:           s.random(),
			Hostname:      s.host,
		})
		if err != nil {
			s.log.Error("DHCP request", slog.String("err", err.Error()))
			return
		}
		s.dhcpActive, s.dhcpStart = true, time.Now()
		s.log.Info("DHCP ongoing...")
	case s.dhcpc.State() == dhcp.StateBound:
		s.bind()
	case time.Since(s.dhcpStart) > dhcpTimeout:
		s.dhcpc.Abort()
		s.dhcpActive = false
		if !s.reqAddr.IsValid() {
			s.log.Warn("DHCP did not complete, retrying")
			return
		}
		s.log.Info("DHCP did not complete, assigning static IP", slog.String("ip", s.reqAddr.String()))
		s.stack.SetAddr(s.reqAddr)
		s.lease = Lease{Addr: s.reqAddr, PrefixLen: 24}
		s.leased = true
	}
}

// bind publishes the DHCP offer as lease.
func (s *picoStack) bind() {
	c := s.dhcpc
	ip := c.Offer()
	gw := c.Router()
	if !gw.IsValid() {
		gw = c.Gateway()
	}
	s.lease = Lease{
		Addr:      ip,
		PrefixLen: int(c.CIDRBits()),
		Gateway:   gw,
		DNS:       append([]netip.Addr(nil), c.DNSServers()...),
		Duration:  c.IPLeaseTime(),
	}
	s.log.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(c.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("broadcast", c.BroadcastAddr().String()),
		slog.String("gateway", gw.String()),
		slog.String("dhcp", c.DHCPServer().String()),
		slog.String("hostname", string(c.Hostname())),
		slog.Duration("lease", c.IPLeaseTime()),
		slog.Duration("renewal", c.RenewalTime()),
		slog.Duration("rebinding", c.RebindingTime()),
	)
	s.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
	s.leased = true
}

// resolveHW obtains the hardware address of the given IP address.
func (s *picoStack) resolveHW(ctx context.Context, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := s.stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	if err := arpc.BeginResolve(ip); err != nil {
		return [6]byte{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, arpTimeout)
	defer cancel()
	if err := poll(ctx, arpTimeout/20, arpc.IsDone); err != nil {
		return [6]byte{}, fmt.Errorf("arp %s: %w", ip, err)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

// LookupNetIP asks the leased DNS server for A records.
func (s *picoStack) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	lease, ok := s.Lease()
	if !ok {
		return nil, errNoLease
	}
	if len(lease.DNS) == 0 || !lease.DNS[0].IsValid() {
		return nil, errNoDNS
	}
	name, err := dns.NewName(host)
	if err != nil {
		return nil, err
	}
	dnsaddr := lease.DNS[0]
	hw, err := s.resolveHW(ctx, lease.NextHop(dnsaddr))
	if err != nil {
		return nil, err
	}
	err = s.dnsc.StartResolve(stacks.DNSResolveConfig{
		Questions: []dns.Question{
			{
				Name:  name,
				Type:  dns.TypeA,
				Class: dns.ClassINET,
			},
		},
		DNSAddr:         dnsaddr,
		DNSHWAddr:       hw,
		EnableRecursion: true,
	})
	if err != nil {
		return nil, err
	}
	if err = poll(ctx, 20*time.Millisecond, func() bool {
		done, _ := s.dnsc.IsDone()
		return done
	}); err != nil {
		return nil, fmt.Errorf("dns lookup timed out: %w", err)
	}
	if _, rcode := s.dnsc.IsDone(); rcode != dns.RCodeSuccess {
		return nil, errors.New("dns lookup failed: " + rcode.String())
	}
	var addrs []netip.Addr
	for _, ans := range s.dnsc.Answers() {
		if data := ans.RawData(); len(data) == 4 {
			addrs = append(addrs, netip.AddrFrom4([4]byte(data)))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no ipv4 dns answers")
	}
	return addrs, nil
}

// Dial opens a TCP connection through the next hop.
func (s *picoStack) Dial(ctx context.Context, addr netip.AddrPort, bufs Buffers) (Socket, error) {
	lease, ok := s.Lease()
	if !ok {
		return nil, errNoLease
	}
	if bufs.Tx > 0xffff || bufs.Rx > 0xffff {
		return nil, fmt.Errorf("%w: socket buffers exceed 64k", ErrConfig)
	}
	hw, err := s.resolveHW(ctx, lease.NextHop(addr.Addr()))
	if err != nil {
		return nil, err
	}
	conn, err := stacks.NewTCPConn(s.stack, stacks.TCPConnConfig{
		TxBufSize: uint16(bufs.Tx),
		RxBufSize: uint16(bufs.Rx),
	})
	if err != nil {
		return nil, err
	}
	lport := uint16(49152 + s.random()%16384)
	if err = conn.OpenDialTCP(lport, hw, addr, seqs.Value(s.random())); err != nil {
		return nil, err
	}
	err = poll(ctx, 5*time.Millisecond, func() bool {
		st := conn.State()
		return st == seqs.StateEstablished || isClosed(st)
	})
	if err == nil && conn.State() != seqs.StateEstablished {
		err = errors.New("connection refused")
	}
	if err != nil {
		conn.Abort()
		return nil, err
	}
	return &picoSocket{TCPConn: conn}, nil
}

// Listen creates a TCP listener on port.
func (s *picoStack) Listen(port uint16) (net.Listener, error) {
	listener, err := stacks.NewTCPListener(s.stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

func isClosed(st seqs.State) bool {
	return st == seqs.StateClosed || st == seqs.StateTimeWait
}

// picoSocket is a seqs TCP connection.
type picoSocket struct {
	*stacks.TCPConn
}

func (c *picoSocket) IsClosed() bool {
	return isClosed(c.State())
}

//----------------------------------------------------------------------

// Maximum number of packets to queue before sending them.
const (
	queueSize                = 3
	maxRetriesBeforeDropping = 3
)

// nic moves frames between the CYW43439 and the port stack.
type nic struct {
	dev     *cyw43439.Device
	stack   *stacks.PortStack
	queue   [queueSize][mtu]byte
	lenBuf  [queueSize]int
	retries [queueSize]int
}

func (n *nic) markSent(i int) {
	n.lenBuf[i] = 0
	n.retries[i] = 0
}

// step polls one incoming frame, queues outgoing frames and sends them.
// Errors are reported, never fatal.
func (n *nic) step() (busy bool, err error) {
	gotPacket, perr := n.dev.PollOne()
	if perr != nil {
		err = fmt.Errorf("poll: %w", perr)
	}
	busy = gotPacket

	// Queue packets to be sent.
	for i := range n.queue {
		if n.retries[i] != 0 {
			continue // Packet currently queued for retransmission.
		}
		size, herr := n.stack.HandleEth(n.queue[i][:])
		if herr != nil {
			n.lenBuf[i] = 0
			err = fmt.Errorf("stack: %w", herr)
			continue
		}
		if n.lenBuf[i] = size; size == 0 {
			break
		}
	}

	// Send queued packets.
	for i := range n.queue {
		size := n.lenBuf[i]
		if size <= 0 {
			continue
		}
		busy = true
		if serr := n.dev.SendEth(n.queue[i][:size]); serr != nil {
			// Queue packet for retransmission.
			n.retries[i]++
			if n.retries[i] > maxRetriesBeforeDropping {
				n.markSent(i)
				err = fmt.Errorf("dropped outgoing packet: %w", serr)
			}
		} else {
			n.markSent(i)
		}
	}
	return
}
