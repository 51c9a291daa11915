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

import "errors"

// Fatal configuration errors
var (
	ErrCredentials = errors.New("credentials rejected")
	ErrConfig      = errors.New("invalid configuration")
	ErrDevice      = errors.New("device failure")
)

// Request-scope errors. Every failure of Get, Do or Exchange matches
// exactly one of these via errors.Is.
var (
	ErrURL              = errors.New("invalid url")
	ErrDNS              = errors.New("dns lookup failed")
	ErrConnect          = errors.New("tcp connect failed")
	ErrTLS              = errors.New("tls handshake failed")
	ErrWrite            = errors.New("request write failed")
	ErrRead             = errors.New("response read failed")
	ErrReadDeadline     = errors.New("read deadline exceeded")
	ErrRequestTooLarge  = errors.New("request exceeds tx buffer")
	ErrResponseTooLarge = errors.New("response exceeds rx buffer")
	ErrResponse         = errors.New("malformed response")
)

// Driver/stack level errors
var (
	errScanUnsupported = errors.New("scan not supported by driver")
	errNotAssociated   = errors.New("not associated")
	errNoLease         = errors.New("no lease")
	errNoDNS           = errors.New("no dns server")
)
