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
	"fmt"
	"log/slog"
	"time"
)

// FetchConfig sizes and times the request executor.
//
// TLS certificates are NOT verified: every server certificate is accepted.
// This trades security for simplicity on a device without a trust store;
// do not reuse this executor for sensitive data without adding verification.
type FetchConfig struct {
	RxBufSize      int           `mapstructure:"rx_buf_size"`     // response buffer (headers + body)
	TxBufSize      int           `mapstructure:"tx_buf_size"`     // request buffer
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`    // read loop deadline
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // DNS + TCP + TLS
	Teardown       time.Duration `mapstructure:"teardown"`        // wait for a closed socket
	UserAgent      string        `mapstructure:"user_agent"`
}

// Config of the connectivity manager.
type Config struct {
	SSID        string `mapstructure:"ssid"`
	Passwd      string `mapstructure:"passwd"`
	Hostname    string `mapstructure:"hostname"`     // DHCP requested hostname
	RequestedIP string `mapstructure:"requested_ip"` // DHCP requested / static fallback IP

	RetryDelay time.Duration `mapstructure:"retry_delay"` // fixed delay between association attempts
	ScanMax    int           `mapstructure:"scan_max"`    // max. scan results (0: no scan)
	GatePoll   time.Duration `mapstructure:"gate_poll"`   // readiness gate poll interval
	PumpIdle   time.Duration `mapstructure:"pump_idle"`   // pump sleep when the stack is idle
	Tick       time.Duration `mapstructure:"tick"`        // poll granularity of socket waits

	Fetch FetchConfig `mapstructure:"fetch"`

	Logger *slog.Logger `mapstructure:"-"`

	// OnFatal is called on unrecoverable configuration errors such as
	// rejected credentials. Default: log and stop the association for
	// good while the status LED shows the error code.
	OnFatal func(error) `mapstructure:"-"`
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{
		Hostname:   "panelnet",
		RetryDelay: 5 * time.Second,
		ScanMax:    10,
		GatePoll:   500 * time.Millisecond,
		PumpIdle:   51 * time.Millisecond,
		Tick:       10 * time.Millisecond,
		Fetch: FetchConfig{
			RxBufSize:      4096,
			TxBufSize:      4096,
			ReadTimeout:    20 * time.Second,
			ConnectTimeout: 10 * time.Second,
			Teardown:       5 * time.Second,
			UserAgent:      "panelnet",
		},
	}
}

// Credentials from the configuration.
func (cfg Config) Credentials() Credentials {
	return Credentials{SSID: cfg.SSID, Passphrase: cfg.Passwd}
}

// Validate checks timing and buffer settings.
func (cfg Config) Validate() error {
	switch {
	case cfg.RetryDelay <= 0:
		return fmt.Errorf("%w: retry_delay must be positive", ErrConfig)
	case cfg.GatePoll <= 0:
		return fmt.Errorf("%w: gate_poll must be positive", ErrConfig)
	case cfg.PumpIdle <= 0:
		return fmt.Errorf("%w: pump_idle must be positive", ErrConfig)
	case cfg.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive", ErrConfig)
	case cfg.ScanMax < 0:
		return fmt.Errorf("%w: scan_max must not be negative", ErrConfig)
	case cfg.Fetch.RxBufSize <= 0 || cfg.Fetch.TxBufSize <= 0:
		return fmt.Errorf("%w: socket buffers must be allocated", ErrConfig)
	case cfg.Fetch.ReadTimeout <= 0 || cfg.Fetch.ConnectTimeout <= 0 || cfg.Fetch.Teardown <= 0:
		return fmt.Errorf("%w: fetch timeouts must be positive", ErrConfig)
	}
	return nil
}
