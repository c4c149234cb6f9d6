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

package sweep

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/dispatch"
	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/store"
)

type fakeDispatcher struct {
	sent []dispatch.Action
}

func (f *fakeDispatcher) Send(action dispatch.Action) {
	f.sent = append(f.sent, action)
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func seedAggregate(t *testing.T, db *sql.DB, st *store.Store, id string, state model.AggregateState, expiresAt *time.Time) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO labs (id, name) VALUES (?, ?)`, "lab-"+id, "lab-"+id)
	require.NoError(t, err)

	err = st.InsertAggregate(context.Background(), &model.Aggregate{
		ID:        id,
		LabID:     "lab-" + id,
		Owner:     "alice",
		State:     state,
		CreatedAt: time.Unix(0, 0),
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
}

func TestScanExpiring_NotifiesOnlyActiveAggregatesNearingExpiry(t *testing.T) {
	db := newTestDB(t)
	st := store.New(db, zerolog.Nop())

	soon := time.Now().Add(10 * time.Minute)
	far := time.Now().Add(48 * time.Hour)

	seedAggregate(t, db, st, "expiring", model.AggregateActive, &soon)
	seedAggregate(t, db, st, "not-expiring", model.AggregateActive, &far)
	seedAggregate(t, db, st, "done", model.AggregateDone, &soon)

	d := &fakeDispatcher{}
	s := New(st, d, time.Hour, zerolog.Nop())

	s.scanExpiring()

	require.Len(t, d.sent, 1)
	require.Equal(t, dispatch.NotifyTask("expiring", notify.SituationBookingExpiring), d.sent[0])
}

func TestScanExpiring_NotifiesEachAggregateAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	st := store.New(db, zerolog.Nop())

	soon := time.Now().Add(10 * time.Minute)
	seedAggregate(t, db, st, "expiring", model.AggregateActive, &soon)

	d := &fakeDispatcher{}
	s := New(st, d, time.Hour, zerolog.Nop())

	s.scanExpiring()
	s.scanExpiring()

	require.Len(t, d.sent, 1)
}
