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
	"runtime"
	"sync/atomic"
	"time"
)

// pump services the network stack for the process lifetime.
type pump struct {
	stack Stack
	idle  time.Duration
	log   *slog.Logger

	steps  atomic.Uint64 // steps with work done
	faults atomic.Uint64 // absorbed errors and panics
}

func newPump(stack Stack, idle time.Duration, log *slog.Logger) *pump {
	return &pump{
		stack: stack,
		idle:  idle,
		log:   log.With(slog.String("task", "net")),
	}
}

// run until ctx is done.
func (p *pump) run(ctx context.Context) {
	for ctx.Err() == nil {
		if p.step() {
			runtime.Gosched()
			continue
		}
		// Avoid busy waiting when both Rx and Tx stall.
		if sleep(ctx, p.idle) != nil {
			return
		}
	}
}

// step services the stack once. Errors and panics are absorbed so a
// single bad frame never stops the loop.
func (p *pump) step() (busy bool) {
	defer func() {
		if r := recover(); r != nil {
			p.faults.Add(1)
			p.log.Error("stack panic", slog.String("err", fmt.Sprint(r)))
			busy = false
		}
	}()
	busy, err := p.stack.Pump()
	if err != nil {
		p.faults.Add(1)
		p.log.Debug("stack error", slog.String("err", err.Error()))
	}
	if busy {
		p.steps.Add(1)
	}
	return
}
