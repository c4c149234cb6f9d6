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

package allocator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/store"
)

// seedDB builds an in-memory schema with nHosts hosts of flavor "f1" in
// lab "l1" and two aggregates, "a1" and "a2", also in lab "l1".
func seedDB(t *testing.T, nHosts int) *sql.DB {
	t.Helper()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO labs (id, name) VALUES ('l1', 'lab one')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO flavors (id, name) VALUES ('f1', 'flavor one')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO aggregates (id, lab_id, owner, created_at, state) VALUES ('a1', 'l1', 'alice', 0, 'new')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO aggregates (id, lab_id, owner, created_at, state) VALUES ('a2', 'l1', 'bob', 0, 'new')`)
	require.NoError(t, err)

	for i := 0; i < nHosts; i++ {
		hostID := fmt.Sprintf("h%d", i)
		_, err = db.Exec(`INSERT INTO host_flavors (host_id, flavor_id) VALUES (?, 'f1')`, hostID)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO resource_handles (id, kind, ref_name, lab_id) VALUES (?, 'host', ?, 'l1')`, "rh-"+hostID, hostID)
		require.NoError(t, err)
	}

	return db
}

func TestAllocateHost_NoMatchingFlavor(t *testing.T) {
	db := seedDB(t, 0)
	a := New(db, zerolog.Nop())

	_, _, terr := a.AllocateHost(context.Background(), "f1", "a1", model.ReasonForBooking, false)
	require.NotNil(t, terr)
	require.Equal(t, "none-available", terr.Kind.String())
}

func TestAllocateHost_AtMostOneOpenAllocation(t *testing.T) {
	// Property 1 (spec §8): race concurrent allocate requests from two
	// aggregates against a single resource handle and assert exactly one
	// succeeds and one open allocation remains.
	db := seedDB(t, 1)
	a := New(db, zerolog.Nop())
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			aggID := "a1"
			if i%2 == 0 {
				aggID = "a2"
			}
			_, _, terr := a.AllocateHost(ctx, "f1", aggID, model.ReasonForBooking, false)
			if terr == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, succeeded, "exactly one concurrent allocation of the single host should succeed")

	open, err := a.QueryAllocated(ctx, "l1", model.ResourceHost)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestAllocateHost_DryRunNeutrality(t *testing.T) {
	db := seedDB(t, 1)
	a := New(db, zerolog.Nop())
	ctx := context.Background()

	before, err := a.QueryAllocated(ctx, "l1", model.ResourceHost)
	require.NoError(t, err)
	require.Empty(t, before)

	hostID, handleID, terr := a.AllocateHost(ctx, "f1", "a1", model.ReasonForBooking, true)
	require.Nil(t, terr)
	require.NotEmpty(t, hostID)
	require.NotEmpty(t, handleID)

	after, err := a.QueryAllocated(ctx, "l1", model.ResourceHost)
	require.NoError(t, err)
	require.Empty(t, after, "a dry-run allocation must leave no open allocation behind")

	// Confirm the resource is still genuinely free for a real call.
	_, _, terr2 := a.AllocateHost(ctx, "f1", "a1", model.ReasonForBooking, false)
	require.Nil(t, terr2)
}

func TestDeallocateAggregate_Conservation(t *testing.T) {
	// Property 2 (spec §8): after a successful DeallocateAggregate, no
	// open allocation references that aggregate.
	db := seedDB(t, 3)
	a := New(db, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, terr := a.AllocateHost(ctx, "f1", "a1", model.ReasonForBooking, false)
		require.Nil(t, terr)
	}

	open, err := a.QueryAllocated(ctx, "l1", model.ResourceHost)
	require.NoError(t, err)
	require.Len(t, open, 3)

	terr := a.DeallocateAggregate(ctx, "a1")
	require.Nil(t, terr)

	open, err = a.QueryAllocated(ctx, "l1", model.ResourceHost)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestDeallocateHost_NotOwner(t *testing.T) {
	db := seedDB(t, 1)
	a := New(db, zerolog.Nop())
	ctx := context.Background()

	_, handleID, terr := a.AllocateHost(ctx, "f1", "a1", model.ReasonForBooking, false)
	require.Nil(t, terr)

	terr = a.DeallocateHost(ctx, handleID, "a2")
	require.NotNil(t, terr)
	require.Equal(t, "not-owner", terr.Kind.String())

	// Idempotent once actually closed by the real owner.
	terr = a.DeallocateHost(ctx, handleID, "a1")
	require.Nil(t, terr)
	terr = a.DeallocateHost(ctx, handleID, "a1")
	require.Nil(t, terr)
}
