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

// Host runs the panelnet connectivity manager on a Linux machine: the
// kernel provides the link and the lease, the panel is the terminal.
//
// Usage:
//
//	panelnet run [flags]
//	panelnet fetch <url> [flags]
//	panelnet status [flags]
//	panelnet version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bfix/panelnet"
	"github.com/grandcat/zeroconf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// mDNS service of the 9p status server
const (
	ServiceType   = "_9p._tcp"
	ServiceDomain = "local."
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
	timeout    time.Duration
	browse     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "panelnet",
	Short:         "LED panel connectivity manager (host build)",
	Version:       panelnet.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the configured URL periodically and render it",
	Example: `  # Fetch every 30 seconds and serve the status namespace on port 5640
  PANELNET_URL=https://example.com/clock PANELNET_PERIOD=30s panelnet run --announce`,
	RunE: runPanel,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a URL once and print the body",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List panels announcing their status namespace",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(panelnet.Version)
	},
}

var announce bool

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./panelnet.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")
	runCmd.Flags().BoolVar(&announce, "announce", false, "Announce the status server via mDNS")
	fetchCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout (connection wait and request)")
	statusCmd.Flags().DurationVar(&browse, "timeout", 3*time.Second, "Browse duration")

	rootCmd.AddCommand(runCmd, fetchCmd, statusCmd, versionCmd)
}

// setup loads the configuration, builds the logger and starts the manager.
func setup(ctx context.Context) (*Config, *panelnet.Manager, *zap.Logger, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	z, logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Net.Logger = logger
	cfg.Net.OnFatal = func(err error) {
		z.Fatal("connectivity", zap.Error(err))
	}
	dev := panelnet.NewLinuxDevice(cfg.Interface)
	mgr, err := panelnet.New(ctx, dev, cfg.Net, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create manager: %w", err)
	}
	return cfg, mgr, z, nil
}

func runPanel(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, mgr, z, err := setup(ctx)
	if err != nil {
		return err
	}
	defer z.Sync()
	if cfg.URL == "" {
		return fmt.Errorf("%w: no url configured", panelnet.ErrConfig)
	}
	if cfg.Period <= 0 {
		return fmt.Errorf("%w: period must be positive", panelnet.ErrConfig)
	}
	panel := panelnet.NewTextDisplay(os.Stdout, cfg.Cols, cfg.Rows)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.StatusPort != 0 {
		g.Go(func() error {
			return mgr.ServeStatus(ctx, cfg.StatusPort)
		})
		if announce || cfg.Announce {
			srv, err := zeroconf.Register(cfg.Net.Hostname, ServiceType, ServiceDomain,
				int(cfg.StatusPort), []string{"version=" + panelnet.Version}, nil)
			if err != nil {
				return fmt.Errorf("failed to announce status server: %w", err)
			}
			defer srv.Shutdown()
		}
	}
	g.Go(func() error {
		lease, err := mgr.WaitForConnection(ctx)
		if err != nil {
			return err
		}
		z.Info("network ready", zap.Stringer("lease", lease))
		for {
			body, err := mgr.Get(ctx, cfg.URL)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				body = []byte("no data")
			}
			if err := panel.Render(string(body)); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Period):
			}
		}
	})
	if err = g.Wait(); errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	_, mgr, z, err := setup(ctx)
	if err != nil {
		return err
	}
	defer z.Sync()
	if _, err = mgr.WaitForConnection(ctx); err != nil {
		return fmt.Errorf("network not ready: %w", err)
	}
	resp, err := mgr.Do(ctx, args[0])
	if err != nil {
		return err
	}
	z.Debug("response", zap.String("status", resp.Status), zap.Int("length", len(resp.Body)))
	_, err = os.Stdout.Write(resp.Body)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), browse)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for e := range entries {
			fmt.Printf("%s\t%s\t%v\t%d\t%v\n", e.Instance, e.HostName, e.AddrIPv4, e.Port, e.Text)
		}
	}()
	if err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	return nil
}
