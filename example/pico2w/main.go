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

//go:build rp2350

package main

import (
	"context"
	"log/slog"
	"machine"
	"strconv"
	"time"

	"github.com/bfix/panelnet"
)

// WiFi credentials, data source and 9p port (set with -ldflags -X)
var (
	SSID   string
	Passwd string
	Host   string
	IP     string
	URL    string
	Port   string = "564"
	Period string = "60s"
)

// fetch URL and show the body on the panel
func main() {
	// access device
	dev := panelnet.InitDevice()
	state := panelnet.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	state.Set(panelnet.StatOK, 0)

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := panelnet.DefaultConfig()
	cfg.SSID, cfg.Passwd = SSID, Passwd
	if Host != "" {
		cfg.Hostname = Host
	}
	cfg.RequestedIP = IP
	cfg.Logger = logger
	period, err := time.ParseDuration(Period)
	if err != nil || period <= 0 {
		state.Set(panelnet.StatCFG, 0)
		return
	}
	port, err := strconv.ParseUint(Port, 10, 16)
	if err != nil {
		state.Set(panelnet.StatCFG, 0)
		return
	}

	ctx := context.Background()
	mgr, err := panelnet.New(ctx, dev, cfg, state)
	if err != nil {
		state.Report(err, 0)
		return
	}
	go func() {
		if err := mgr.ServeStatus(ctx, uint16(port)); err != nil {
			logger.Error("status server", slog.String("err", err.Error()))
		}
	}()

	// 64x32 panel, 4x6 font
	panel := panelnet.NewTextDisplay(machine.Serial, 16, 5)
	panel.Render("connecting...")
	lease, err := mgr.WaitForConnection(ctx)
	if err != nil {
		state.Report(err, 0)
		return
	}
	logger.Info("network ready", slog.String("lease", lease.String()))

	for {
		body, err := mgr.Get(ctx, URL)
		if err != nil {
			panel.Render("no data")
		} else {
			panel.Render(string(body))
		}
		time.Sleep(period)
	}
}
