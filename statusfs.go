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
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Version of the firmware (set with -ldflags).
var Version = "dev"

// Namespace returns a 9p status filesystem of the manager:
//
//	/version
//	/net/state   association state and counters
//	/net/lease   current lease (empty if none)
//	/net/pump    pump steps and absorbed faults
//	/fetch/stats request counters and last error
//	/fetch/body  body of the last successful request
func (m *Manager) Namespace() (*Namespace, error) {
	ns := NewNamespace("sys", "sys")
	files := []struct {
		path string
		file File
	}{
		{"/version", NewTextFile(Version + "\n")},
		{"/net", nil},
		{"/net/state", NewLineFile(func() string {
			a := m.assoc.Stats()
			s := fmt.Sprintf("%s attempts=%d connects=%d disconnects=%d link=%t",
				a.State, a.Attempts, a.Connects, a.Disconnects, m.stack.LinkUp())
			if a.LastReason != nil {
				s += " reason=" + a.LastReason.Error()
			}
			return s
		})},
		{"/net/lease", NewLineFile(func() string {
			if l, ok := m.stack.Lease(); ok {
				return l.String()
			}
			return ""
		})},
		{"/net/pump", NewLineFile(func() string {
			return fmt.Sprintf("steps=%d faults=%d", m.pump.steps.Load(), m.pump.faults.Load())
		})},
		{"/fetch", nil},
		{"/fetch/stats", NewLineFile(func() string {
			f := m.fetch.Stats()
			s := fmt.Sprintf("ok=%d failed=%d url=%s", f.OK, f.Failed, f.LastURL)
			if f.LastErr != nil {
				s += " err=" + strings.ReplaceAll(f.LastErr.Error(), "\n", " ")
			}
			return s
		})},
		{"/fetch/body", NewFuncFile(func() ([]byte, error) {
			return m.fetch.Stats().LastBody, nil
		})},
	}
	for _, f := range files {
		var err error
		if f.file == nil {
			_, err = ns.NewDir(f.path)
		} else {
			_, err = ns.NewFile(f.path, f.file)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return ns, nil
}

// ServeStatus serves the status namespace via 9p on the given TCP port
// until ctx is done.
func (m *Manager) ServeStatus(ctx context.Context, port uint16) error {
	ns, err := m.Namespace()
	if err != nil {
		m.status.Set(StatLISTEN, 3)
		return err
	}
	lst, err := m.stack.Listen(port)
	if err != nil {
		m.status.Set(StatLISTEN, 3)
		return fmt.Errorf("status listener: %w", err)
	}
	go func() {
		<-ctx.Done()
		lst.Close()
	}()
	log := m.log.With(slog.String("task", "9p"))
	log.Info("serving status", slog.Uint64("port", uint64(port)))
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("accept", slog.String("err", err.Error()))
			if err = sleep(ctx, m.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		go srv.ServeIO(c, c)
	}
}
