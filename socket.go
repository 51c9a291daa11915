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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"
)

// readBounded reads into buf until done reports a complete message, the
// peer closes, or the deadline passes. Filling buf without completing
// the message is an error; nothing is truncated.
func readBounded(conn net.Conn, buf []byte, deadline time.Time, done func([]byte) bool) (n int, err error) {
	if err = conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}
	var m int
	for {
		if n == len(buf) {
			var probe [1]byte
			m, err = conn.Read(probe[:])
			if m > 0 {
				return n, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, len(buf))
			}
		} else {
			m, err = conn.Read(buf[n:])
			n += m
			if done != nil && done(buf[:n]) {
				return n, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, readError(err)
		}
	}
}

// readError maps a socket read error to its request-scope sentinel.
func readError(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", ErrReadDeadline, err)
	}
	return fmt.Errorf("%w: %w", ErrRead, err)
}

// teardown closes conn gracefully (conn may wrap sock) and waits up to
// window for sock to reach the closed state. The pump keeps running
// meanwhile so the close handshake can complete; if it does not, the
// socket is aborted.
func teardown(sock Socket, conn io.Closer, window, tick time.Duration, log *slog.Logger) {
	_ = sock.SetDeadline(time.Now().Add(window))
	if err := conn.Close(); err != nil {
		log.Debug("close", slog.String("err", err.Error()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	if poll(ctx, tick, sock.IsClosed) != nil {
		log.Warn("socket teardown timed out, aborting", slog.Duration("window", window))
		sock.Abort()
	}
}

// exchange writes req to a literal address and copies everything read
// to w until EOF or the read deadline.
func (f *fetcher) exchange(ctx context.Context, addr netip.AddrPort, req []byte, w io.Writer) error {
	log := f.log.With(slog.String("addr", addr.String()))
	if len(req) > f.cfg.TxBufSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrRequestTooLarge, len(req), f.cfg.TxBufSize)
	}
	if err := f.ready(ctx, log); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()
	sock, err := f.stack.Dial(cctx, addr, Buffers{Tx: f.cfg.TxBufSize, Rx: f.cfg.RxBufSize})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer teardown(sock, sock, f.cfg.Teardown, f.tick, log)

	if _, err = sock.Write(req); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	deadline := time.Now().Add(f.cfg.ReadTimeout)
	if err = sock.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrRead, err)
	}
	buf := make([]byte, min(512, f.cfg.RxBufSize))
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: sink: %w", ErrRead, werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			err = readError(err)
			if errors.Is(err, ErrReadDeadline) {
				log.Warn("timeout")
			}
			return err
		}
		if time.Now().After(deadline) {
			log.Warn("timeout")
			return fmt.Errorf("%w: after %s", ErrReadDeadline, f.cfg.ReadTimeout)
		}
	}
}
