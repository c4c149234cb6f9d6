// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package netconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recordingDriver sleeps briefly inside Apply and records whether any
// other call was concurrently in flight for the same switch.
type recordingDriver struct {
	inFlight int32
	raced    int32
}

func (d *recordingDriver) Apply(ctx context.Context, switchID string, cfg NetworkConfig) error {
	if atomic.AddInt32(&d.inFlight, 1) > 1 {
		atomic.StoreInt32(&d.raced, 1)
	}
	defer atomic.AddInt32(&d.inFlight, -1)

	time.Sleep(5 * time.Millisecond)

	return nil
}

func TestSwitchLocks_SerializesSameSwitch(t *testing.T) {
	locks, err := NewSwitchLocks(8, zerolog.Nop())
	require.NoError(t, err)

	driver := &recordingDriver{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, locks.Apply(context.Background(), "sw1", NetworkConfig{}, driver))
		}()
	}
	wg.Wait()

	require.Zero(t, driver.raced, "two applies against the same switch must never overlap")
}

func TestSwitchLocks_DifferentSwitchesConcurrent(t *testing.T) {
	locks, err := NewSwitchLocks(8, zerolog.Nop())
	require.NoError(t, err)

	driver := &recordingDriver{}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		switchID := "sw-a"
		if i == 1 {
			switchID = "sw-b"
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			require.NoError(t, locks.Apply(context.Background(), id, NetworkConfig{}, driver))
		}(switchID)
	}
	wg.Wait()
}
