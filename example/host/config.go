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

//go:build !rp2350

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bfix/panelnet"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config of the host program.
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Interface  string        `mapstructure:"interface"`   // "" for the first usable one
	URL        string        `mapstructure:"url"`         // data source of "run"
	Period     time.Duration `mapstructure:"period"`      // fetch period of "run"
	StatusPort uint16        `mapstructure:"status_port"` // 9p status server (0: off)
	Announce   bool          `mapstructure:"announce"`    // mDNS announcement of the status server
	Cols       int           `mapstructure:"cols"`
	Rows       int           `mapstructure:"rows"`

	Net panelnet.Config `mapstructure:",squash"`
}

func setDefaults(v *viper.Viper) {
	def := panelnet.DefaultConfig()
	for key, val := range map[string]any{
		"log.level":   "info",
		"interface":   "",
		"url":         "",
		"period":      time.Minute,
		"status_port": 5640,
		"announce":    false,
		"cols":        16,
		"rows":        5,

		"ssid":         def.SSID,
		"passwd":       def.Passwd,
		"hostname":     def.Hostname,
		"requested_ip": def.RequestedIP,
		"retry_delay":  def.RetryDelay,
		"scan_max":     def.ScanMax,
		"gate_poll":    def.GatePoll,
		"pump_idle":    def.PumpIdle,
		"tick":         def.Tick,

		"fetch.rx_buf_size":     def.Fetch.RxBufSize,
		"fetch.tx_buf_size":     def.Fetch.TxBufSize,
		"fetch.read_timeout":    def.Fetch.ReadTimeout,
		"fetch.connect_timeout": def.Fetch.ConnectTimeout,
		"fetch.teardown":        def.Fetch.Teardown,
		"fetch.user_agent":      def.Fetch.UserAgent,
	} {
		v.SetDefault(key, val)
	}
}

// LoadConfig reads the configuration from file (panelnet.yaml in the
// working directory if path is empty), a .env file and PANELNET_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("panelnet")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/panelnet")
	}
	v.SetEnvPrefix("PANELNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Net.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("%w: display needs at least one cell", panelnet.ErrConfig)
	}
	return cfg, nil
}
