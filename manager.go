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
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"
)

// Manager brings the radio to an addressed, request-capable endpoint
// and keeps it there. Only one request may be in flight at a time;
// concurrent calls to Get, Do or Exchange are a caller error.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	radio  Radio
	stack  Stack
	seeds  Seeds
	status *Status

	assoc *association
	pump  *pump
	fetch *fetcher

	started time.Time
}

// New creates the manager, starts the association machine and the stack
// pump as background goroutines and returns without waiting for the
// network. ctx bounds the lifetime of the background goroutines; firmware
// passes context.Background(). The status display may be nil.
func New(ctx context.Context, dev Device, cfg Config, status *Status) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // Make temporary logger that does no logging.
		}))
	}
	seeds, err := NewSeeds(rand.Reader)
	if err != nil {
		return nil, err
	}
	stack, err := dev.NewStack(StackConfig{
		Seed:        seeds.Net,
		Hostname:    cfg.Hostname,
		RequestedIP: cfg.RequestedIP,
		TCPPorts:    2,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: network stack: %w", ErrDevice, err)
	}
	m := &Manager{
		cfg:     cfg,
		log:     logger,
		radio:   dev.Radio(),
		stack:   stack,
		seeds:   seeds,
		status:  status,
		started: time.Now(),
	}
	fatal := cfg.OnFatal
	if fatal == nil {
		fatal = func(err error) { m.halt(ctx, err) }
	}
	m.assoc = newAssociation(m.radio, cfg.Credentials(), cfg, logger, func(err error) {
		m.status.Report(err, 0)
		fatal(err)
	})
	m.assoc.notify = m.linkStatus
	m.pump = newPump(stack, cfg.PumpIdle, logger)
	m.fetch = newFetcher(stack, cfg, newSeedStream(seeds.TLS), logger)

	m.status.Set(StatDHCP, 0)
	go m.assoc.run(ctx)
	go m.pump.run(ctx)
	return m, nil
}

// halt on fatal configuration errors: there is no operator to intervene.
// The association stops for good; the status LED keeps showing the code.
func (m *Manager) halt(ctx context.Context, err error) {
	m.log.Error("halted", slog.String("err", err.Error()))
	<-ctx.Done()
}

// linkStatus shows association loss on the status LED.
func (m *Manager) linkStatus(s AssocState) {
	switch s {
	case StateDisconnected:
		m.status.Set(StatWIFI, 0)
	case StateConnected:
		if code, _ := m.status.Get(); code == StatWIFI {
			m.status.Set(StatDHCP, 0)
		}
	}
}

// WaitForConnection blocks until the link is up and a lease is held.
// It has no timeout of its own; use ctx to layer one on top.
func (m *Manager) WaitForConnection(ctx context.Context) (Lease, error) {
	lease, err := waitReady(ctx, m.stack, m.cfg.GatePoll, m.log)
	if err == nil {
		m.status.Set(StatOK, 0)
	}
	return lease, err
}

// Get fetches url and returns the response body.
func (m *Manager) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.Do(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do fetches url and returns the full response.
func (m *Manager) Do(ctx context.Context, url string) (*Response, error) {
	resp, err := m.fetch.do(ctx, url)
	m.report(err)
	return resp, err
}

// Exchange sends a raw request to a literal address and copies the
// reply to w until the peer closes or the read deadline passes.
func (m *Manager) Exchange(ctx context.Context, addr netip.AddrPort, req []byte, w io.Writer) error {
	err := m.fetch.exchange(ctx, addr, req, w)
	m.report(err)
	return err
}

func (m *Manager) report(err error) {
	if err != nil {
		m.status.Report(err, 3)
	} else if code, _ := m.status.Get(); code == StatDHCP {
		m.status.Set(StatOK, 0)
	}
}

//----------------------------------------------------------------------

// Snapshot is a diagnostic view of the manager.
type Snapshot struct {
	Uptime     time.Duration
	Assoc      AssocStats
	LinkUp     bool
	Lease      *Lease
	PumpSteps  uint64
	PumpFaults uint64
	Fetch      FetchStats
}

// Snapshot returns the current diagnostic view.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Uptime:     time.Since(m.started).Truncate(time.Second),
		Assoc:      m.assoc.Stats(),
		LinkUp:     m.stack.LinkUp(),
		PumpSteps:  m.pump.steps.Load(),
		PumpFaults: m.pump.faults.Load(),
		Fetch:      m.fetch.Stats(),
	}
	if l, ok := m.stack.Lease(); ok {
		s.Lease = &l
	}
	return s
}
