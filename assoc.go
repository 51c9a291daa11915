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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AssocState of the association state machine.
type AssocState int

// association states
const (
	StateIdle AssocState = iota
	StateStarting
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnected
)

var stateNames = [...]string{"idle", "starting", "scanning", "connecting", "connected", "disconnected"}

// String returns the state name.
func (s AssocState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// AssocStats are the counters of the association machine.
type AssocStats struct {
	State       AssocState
	Attempts    int // calls to Radio.Connect
	Connects    int // successful associations
	Disconnects int // disconnects and failed attempts
	LastReason  error
	LastChange  time.Time
}

// association drives the radio from idle to associated and keeps it
// there. It retries forever with a fixed delay.
type association struct {
	radio   Radio
	cred    Credentials
	retry   backoff.BackOff
	scanMax int
	log     *slog.Logger
	fatal   func(error)
	notify  func(AssocState) // optional, called on every transition

	mu    sync.Mutex
	stats AssocStats
}

func newAssociation(radio Radio, cred Credentials, cfg Config, log *slog.Logger, fatal func(error)) *association {
	return &association{
		radio:   radio,
		cred:    cred,
		retry:   backoff.NewConstantBackOff(cfg.RetryDelay),
		scanMax: cfg.ScanMax,
		log:     log.With(slog.String("task", "wifi")),
		fatal:   fatal,
	}
}

func (a *association) set(s AssocState, reason error) {
	if a.notify != nil {
		defer a.notify(s)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.State = s
	a.stats.LastChange = time.Now()
	switch s {
	case StateConnecting:
		a.stats.Attempts++
	case StateConnected:
		a.stats.Connects++
	case StateDisconnected:
		a.stats.Disconnects++
		a.stats.LastReason = reason
	}
}

// Stats returns a copy of the counters.
func (a *association) Stats() AssocStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *association) state() AssocState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.State
}

// run the state machine until ctx is done or a fatal error occurs.
func (a *association) run(ctx context.Context) {
	a.log.Info("start connection task", slog.String("net", a.cred.String()))
	policy := backoff.WithContext(a.retry, ctx)
	for {
		err := backoff.RetryNotify(func() error {
			return a.attempt(ctx)
		}, policy, a.lost)
		if err != nil {
			if errors.Is(err, ErrCredentials) {
				a.failed(err)
			}
			return
		}
		a.set(StateConnected, nil)
		a.log.Info("wifi connected!")

		reason := a.radio.WaitDisconnect(ctx)
		if ctx.Err() != nil {
			return
		}
		if reason == nil {
			reason = errNotAssociated
		}
		if !a.backoff(ctx, reason) {
			return
		}
	}
}

// attempt a single association. Rejected credentials end the retries.
func (a *association) attempt(ctx context.Context) error {
	a.set(StateStarting, nil)
	var err error
	if !a.radio.IsStarted() {
		err = a.start(ctx)
	}
	if err == nil {
		a.set(StateConnecting, nil)
		if err = a.radio.Configure(a.cred); err == nil {
			a.log.Info("about to connect...")
			err = a.radio.Connect(ctx)
		}
	}
	if errors.Is(err, ErrCredentials) {
		return backoff.Permanent(err)
	}
	return err
}

// start the radio and run the diagnostic scan.
func (a *association) start(ctx context.Context) error {
	if err := a.radio.Configure(a.cred); err != nil {
		return err
	}
	a.log.Info("starting wifi")
	if err := a.radio.Start(ctx); err != nil {
		return err
	}
	a.log.Info("wifi started!")
	if a.scanMax <= 0 {
		return nil
	}
	a.set(StateScanning, nil)
	aps, err := a.radio.Scan(ctx, a.scanMax)
	if err != nil {
		a.log.Debug("scan failed", slog.String("err", err.Error()))
		return nil
	}
	for _, ap := range aps {
		a.log.Info("scan",
			slog.String("ssid", ap.SSID),
			slog.String("bssid", ap.BSSID.String()),
			slog.Int("channel", ap.Channel),
			slog.Int("rssi", ap.RSSI),
			slog.String("auth", ap.Auth),
		)
	}
	return nil
}

// failed reports a fatal configuration error to the fatal handler.
func (a *association) failed(err error) {
	a.log.Error("credentials rejected by driver", slog.String("err", err.Error()))
	a.set(StateDisconnected, err)
	a.fatal(err)
}

// lost marks the link as lost; the caller waits d before the next attempt.
func (a *association) lost(reason error, d time.Duration) {
	a.set(StateDisconnected, reason)
	a.log.Warn("wifi disconnected", slog.String("reason", reason.Error()), slog.Duration("retry", d))
}

// backoff marks the link as lost and waits the fixed retry delay.
func (a *association) backoff(ctx context.Context, reason error) bool {
	d := a.retry.NextBackOff()
	a.lost(reason, d)
	return sleep(ctx, d) == nil
}
