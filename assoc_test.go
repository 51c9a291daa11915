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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func runAssociation(t *testing.T, radio Radio, cfg Config, fatal func(error)) (*association, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if fatal == nil {
		fatal = cfg.OnFatal
	}
	a := newAssociation(radio, cfg.Credentials(), cfg, cfg.Logger, fatal)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(ctx)
	}()
	return a, done
}

func TestAssocStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", AssocState(42).String())
}

func TestAssociationFixedDelay(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = 40 * time.Millisecond
	radio := newFakeRadio()
	radio.connectErr = errors.New("no AP in range")
	a, _ := runAssociation(t, radio, cfg, nil)

	require.Eventually(t, func() bool { return len(radio.attempts()) >= 7 }, 3*time.Second, 5*time.Millisecond)
	times := radio.attempts()
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, cfg.RetryDelay, "attempt %d", i)
		assert.Less(t, gap, cfg.RetryDelay+60*time.Millisecond, "attempt %d", i)
	}
	stats := a.Stats()
	assert.GreaterOrEqual(t, stats.Attempts, 7)
	assert.Zero(t, stats.Connects)
	assert.EqualError(t, stats.LastReason, "no AP in range")

	// still retrying: no cap, no termination
	n := len(times)
	require.Eventually(t, func() bool { return len(radio.attempts()) > n }, time.Second, 5*time.Millisecond)
}

func TestAssociationStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	radio := newFakeRadio()
	radio.connectErr = errors.New("no AP in range")
	ctx, cancel := context.WithCancel(context.Background())
	a := newAssociation(radio, cfg.Credentials(), cfg, cfg.Logger, cfg.OnFatal)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(ctx)
	}()

	require.Eventually(t, func() bool { return len(radio.attempts()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("association still running after cancel")
	}
	n := len(radio.attempts())
	time.Sleep(3 * cfg.RetryDelay)
	assert.Len(t, radio.attempts(), n)
}

func TestAssociationReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = 5 * time.Millisecond
	radio := newFakeRadio()
	a, _ := runAssociation(t, radio, cfg, nil)

	for i := 1; i <= 5; i++ {
		require.Eventually(t, func() bool {
			s := a.Stats()
			return s.State == StateConnected && s.Connects == i
		}, time.Second, time.Millisecond, "connect %d", i)
		radio.drop(fmt.Errorf("beacon lost %d", i))
	}
	require.Eventually(t, func() bool { return a.Stats().Connects == 6 }, time.Second, time.Millisecond)
	stats := a.Stats()
	assert.Equal(t, StateConnected, stats.State)
	assert.Equal(t, 5, stats.Disconnects)
	assert.EqualError(t, stats.LastReason, "beacon lost 5")
	assert.True(t, radio.IsConnected())
}

func TestAssociationRecoversFromFailedAttempts(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = 5 * time.Millisecond
	radio := newFakeRadio()
	radio.failures = 3
	radio.aps = []AccessPoint{{SSID: "panel-net", Channel: 6, RSSI: -51, Auth: "wpa2"}}
	a, _ := runAssociation(t, radio, cfg, nil)

	require.Eventually(t, func() bool { return a.Stats().State == StateConnected }, time.Second, time.Millisecond)
	stats := a.Stats()
	assert.Equal(t, 4, stats.Attempts)
	assert.Equal(t, 3, stats.Disconnects)

	radio.mu.Lock()
	defer radio.mu.Unlock()
	assert.Equal(t, cfg.ScanMax, radio.scanMax)
	// config applied at start and before every connection attempt
	assert.Equal(t, 1+stats.Attempts, radio.configs)
}

// mockRadio for expectation-based tests
type mockRadio struct {
	mock.Mock
}

func (m *mockRadio) Start(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockRadio) IsStarted() bool                 { return m.Called().Bool(0) }
func (m *mockRadio) Configure(cred Credentials) error {
	return m.Called(cred).Error(0)
}
func (m *mockRadio) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	args := m.Called(max)
	return args.Get(0).([]AccessPoint), args.Error(1)
}
func (m *mockRadio) Connect(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockRadio) IsConnected() bool                 { return m.Called().Bool(0) }
func (m *mockRadio) WaitDisconnect(ctx context.Context) error {
	return m.Called().Error(0)
}

func TestAssociationCredentialsFatal(t *testing.T) {
	cfg := testConfig(t)
	radio := new(mockRadio)
	rejected := fmt.Errorf("%w: passphrase length 3", ErrCredentials)
	radio.On("IsStarted").Return(false)
	radio.On("Configure", cfg.Credentials()).Return(rejected).Once()

	fatal := make(chan error, 1)
	a, done := runAssociation(t, radio, cfg, func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, ErrCredentials)
	case <-time.After(time.Second):
		t.Fatal("fatal handler not called")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("association kept running after fatal error")
	}
	radio.AssertExpectations(t)
	radio.AssertNotCalled(t, "Start")
	radio.AssertNotCalled(t, "Connect")
	assert.Equal(t, StateDisconnected, a.Stats().State)
}

func TestAssociationScanFailureIgnored(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScanMax = 4
	radio := new(mockRadio)
	radio.On("IsStarted").Return(false).Once()
	radio.On("Configure", cfg.Credentials()).Return(nil)
	radio.On("Start").Return(nil).Once()
	radio.On("Scan", 4).Return([]AccessPoint(nil), errScanUnsupported).Once()
	radio.On("Connect").Return(nil).Once()
	radio.On("WaitDisconnect").WaitUntil(make(chan time.Time)).Return(errors.New("unreachable")).Maybe()

	a, _ := runAssociation(t, radio, cfg, nil)
	require.Eventually(t, func() bool { return a.Stats().Connects == 1 }, time.Second, time.Millisecond)
	radio.AssertCalled(t, "Scan", 4)
}
