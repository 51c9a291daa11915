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
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// status codes (number of LED blinks)
const (
	StatUNK    = iota // unknown status (init)
	StatOK            // processing active
	StatDEV           // device failure
	StatCFG           // invalid configuration
	StatWPA2          // credentials rejected
	StatWIFI          // association lost, retrying
	StatDHCP          // waiting for a lease
	StatDNS           // name resolution failed
	StatTCP           // connect failed
	StatTLS           // TLS handshake failed
	StatHTTP          // request write or response read failed
	StatBUF           // request or response exceeds buffer
	StatLISTEN        // status listener failed
	StatEXCP          // exception (panic) occured
)

// StatusOf maps an error to its status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatOK
	case errors.Is(err, ErrCredentials):
		return StatWPA2
	case errors.Is(err, ErrConfig):
		return StatCFG
	case errors.Is(err, ErrDevice):
		return StatDEV
	case errors.Is(err, ErrDNS):
		return StatDNS
	case errors.Is(err, ErrConnect):
		return StatTCP
	case errors.Is(err, ErrTLS):
		return StatTLS
	case errors.Is(err, ErrRequestTooLarge), errors.Is(err, ErrResponseTooLarge):
		return StatBUF
	case errors.Is(err, ErrWrite), errors.Is(err, ErrRead),
		errors.Is(err, ErrReadDeadline), errors.Is(err, ErrResponse), errors.Is(err, ErrURL):
		return StatHTTP
	}
	return StatUNK
}

// Status handler.
// Show current status depending on hardware device.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display blinking the device LED.
func NewStatus(dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	state.curr.Store(StatOK)
	go state.blink()
	return
}

// blink LED <state>; <repeat> times. Codes above 5 start with long
// blinks worth five each.
func (state *Status) blink() {
	for {
		time.Sleep(5 * time.Second)
		num := state.curr.Load()
		for num > 5 {
			state.dev.LED(true)
			time.Sleep(1000 * time.Millisecond)
			state.dev.LED(false)
			time.Sleep(300 * time.Millisecond)
			num -= 5
		}
		for range num {
			state.dev.LED(true)
			time.Sleep(150 * time.Millisecond)
			state.dev.LED(false)
			time.Sleep(150 * time.Millisecond)
		}
		if state.repeat.Add(-1) == 0 {
			state.curr.Store(StatOK)
		}
	}
}

// Set status and repeat <num> times (0: until changed).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Report an error (or success) for <num> blink cycles.
func (state *Status) Report(err error, num int) {
	state.Set(StatusOf(err), num)
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	if state == nil {
		return StatUNK, 0
	}
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic). Deferred by the firmware main.
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if err, ok := r.(error); ok && StatusOf(err) != StatUNK {
			state.Set(StatusOf(err), 0)
		} else if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}
