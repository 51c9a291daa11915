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
	"log/slog"
	"time"
)

// waitReady blocks until the link is up and a lease is held, both
// observed in the same poll. There is no timeout; ctx is the only way out.
func waitReady(ctx context.Context, stack Stack, interval time.Duration, log *slog.Logger) (Lease, error) {
	var (
		lease   Lease
		waiting = "link"
	)
	log.Info("waiting for link to be up")
	err := poll(ctx, interval, func() bool {
		if !stack.LinkUp() {
			return false
		}
		if waiting == "link" {
			log.Info("waiting to get IP address...")
			waiting = "lease"
		}
		var ok bool
		lease, ok = stack.Lease()
		return ok
	})
	if err != nil {
		return Lease{}, err
	}
	log.Info("got IP", slog.String("lease", lease.String()))
	return lease, nil
}

// ready reports without blocking whether the gate is open.
func ready(stack Stack) (Lease, bool) {
	if !stack.LinkUp() {
		return Lease{}, false
	}
	return stack.Lease()
}
