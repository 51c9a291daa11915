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
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
)

// Seeds are drawn once per process. Net seeds the stack's transport
// randomness, TLS the client's handshake randomness.
type Seeds struct {
	Net uint64
	TLS uint64
}

// NewSeeds draws two independent seeds from r.
func NewSeeds(r io.Reader) (s Seeds, err error) {
	var buf [16]byte
	for s.Net == s.TLS {
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return s, fmt.Errorf("seeds: %w", err)
		}
		s.Net = binary.LittleEndian.Uint64(buf[:8])
		s.TLS = binary.LittleEndian.Uint64(buf[8:])
	}
	return
}

// seedStream is a ChaCha8 byte stream keyed from a 64-bit seed.
// It is safe for concurrent use.
type seedStream struct {
	sync.Mutex
	src *rand.ChaCha8
}

func newSeedStream(seed uint64) *seedStream {
	var key [32]byte
	pcg := rand.NewPCG(seed, ^seed)
	for i := 0; i < len(key); i += 8 {
		binary.LittleEndian.PutUint64(key[i:], pcg.Uint64())
	}
	return &seedStream{src: rand.NewChaCha8(key)}
}

// Read fills p with stream bytes. Never fails.
func (s *seedStream) Read(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	return s.src.Read(p)
}
