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

package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/allocator"
	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/netconfig"
	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/store"
	"laas.dev/core/labctld/internal/task"
	"laas.dev/core/labctld/internal/userdir"
)

// fakeCtx is a minimal task.Context for tests that exercise a Run body
// up to (but not past) its first Spawn call.
type fakeCtx struct {
	ctx      context.Context
	taskID   string
	deadline time.Time
}

func (f fakeCtx) TaskID() string             { return f.taskID }
func (f fakeCtx) Deadline() time.Time        { return f.deadline }
func (f fakeCtx) Context() context.Context   { return f.ctx }
func (f fakeCtx) Spawn(child task.Runnable) (task.Handle, error) {
	return task.Handle{}, nil
}

func newFakeCtx() fakeCtx {
	return fakeCtx{ctx: context.Background(), taskID: "t1", deadline: time.Now().Add(time.Hour)}
}

func seedAggregate(t *testing.T, db *sql.DB, id, labID, owner, state string, collaborators []string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO labs (id, name) VALUES (?, ?)`, labID, labID)
	require.NoError(t, err)

	s := mustStore(t, db)
	err = s.InsertAggregate(context.Background(), &model.Aggregate{
		ID:            id,
		LabID:         labID,
		Owner:         owner,
		Collaborators: collaborators,
		State:         model.AggregateState(state),
		CreatedAt:     time.Unix(0, 0),
	})
	require.NoError(t, err)
}

func mustStore(t *testing.T, db *sql.DB) *store.Store {
	t.Helper()
	return store.New(db, zerolog.Nop())
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestDeployBooking_RejectsWrongState(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "active", nil)

	deps := &Deps{Store: mustStore(t, db), Log: zerolog.Nop()}
	dep := DeployBooking{AggregateID: "a1", deps: deps}

	_, terr := dep.Run(newFakeCtx())
	require.NotNil(t, terr)
	require.Equal(t, "reason", terr.Kind.String())
}

func TestCleanupAggregate_AlreadyDone_IsNoop(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "done", nil)

	deps := &Deps{
		Store:     mustStore(t, db),
		Allocator: allocator.New(db, zerolog.Nop()),
		Log:       zerolog.Nop(),
	}

	out, terr := CleanupAggregate{AggregateID: "a1", deps: deps}.Run(newFakeCtx())
	require.Nil(t, terr)
	require.Equal(t, "a1", out)
}

// recordingNotifier captures every Send call for assertions.
type recordingNotifier struct {
	sent []notify.Situation
}

func (n *recordingNotifier) Send(ctx context.Context, situation notify.Situation, info notify.BookingInfo) error {
	n.sent = append(n.sent, situation)
	return nil
}

func TestNotify_SendsThroughNotifier(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "active", nil)

	rec := &recordingNotifier{}
	deps := &Deps{Store: mustStore(t, db), Notifier: rec, Log: zerolog.Nop()}

	_, terr := Notify{AggregateID: "a1", Situation: "booking-created", deps: deps}.Run(newFakeCtx())
	require.Nil(t, terr)
	require.Equal(t, []notify.Situation{notify.SituationBookingCreated}, rec.sent)
}

func TestAddUsers_SkipsUnknownCollaborators(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "active", []string{"bob"})

	dir := userdir.NewFake()
	dir.Groups["lab-l1-vpn"] = map[string]bool{}
	// "alice" exists in the directory, "bob" (a collaborator) does not.
	dir.Groups["bootstrap"] = map[string]bool{"alice": true}

	deps := &Deps{Store: mustStore(t, db), UserDir: dir, Log: zerolog.Nop()}

	out, terr := AddUsers{AggregateID: "a1", deps: deps}.Run(newFakeCtx())
	require.Nil(t, terr)
	require.Equal(t, "a1", out)

	require.True(t, dir.Groups["lab-l1-vpn"]["alice"])
	require.False(t, dir.Groups["lab-l1-vpn"]["bob"])
}

// fakeInventory is a minimal Inventory for tests that need DeployHost's
// load() to resolve a host without a real inventory backend.
type fakeInventory struct {
	hosts map[string]model.Host
}

func (f fakeInventory) Host(id string) (model.Host, error) {
	h, ok := f.hosts[id]
	if !ok {
		return model.Host{}, fmt.Errorf("fakeInventory: unknown host %q", id)
	}
	return h, nil
}
func (f fakeInventory) SwitchForPort(hostPortID string) (model.Switch, error) {
	return model.Switch{ID: "sw1"}, nil
}
func (f fakeInventory) ManagementVlan(labID string) int                             { return 100 }
func (f fakeInventory) BMCVlan(hostID string) int                                   { return 99 }
func (f fakeInventory) ProductionBonds(hostID string) []netconfig.ProductionBondRequest { return nil }
func (f fakeInventory) ManagementAddress(hostID string) (net.IP, error) {
	return net.ParseIP("10.0.0.1"), nil
}

// TestDeployBooking_NoCapacity_MarksAggregateDone exercises spec §8
// Scenario B: a booking request against a lab with zero free hosts of
// the requested flavor must fail the allocation phase, release
// anything opened, and still move the aggregate out of New into Done
// rather than leaving it stuck.
func TestDeployBooking_NoCapacity_MarksAggregateDone(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "new", nil)

	s := mustStore(t, db)
	require.NoError(t, s.InsertInstance(context.Background(), &model.Instance{
		ID:          "i1",
		AggregateID: "a1",
		Template:    model.HostTemplate{FlavorID: "f1"},
		State:       "pending",
	}))

	alloc := allocator.New(db, zerolog.Nop())
	deps := &Deps{Store: s, Allocator: alloc, Log: zerolog.Nop()}

	_, terr := DeployBooking{AggregateID: "a1", deps: deps}.Run(newFakeCtx())
	require.NotNil(t, terr)
	require.Equal(t, task.KindNoneAvailable, terr.Kind)

	agg, err := s.GetAggregate(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.AggregateDone, agg.State)

	open, err := alloc.OpenAllocationCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, open)
}

// TestCleanupAggregate_RejectsNonActiveState guards against racing a
// CleanupBooking request against a still-deploying (New) aggregate:
// spec.md's cleanup gate is Active-only, never best-effort string
// matching against just "done".
func TestCleanupAggregate_RejectsNonActiveState(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "new", nil)

	deps := &Deps{Store: mustStore(t, db), Allocator: allocator.New(db, zerolog.Nop()), Log: zerolog.Nop()}

	_, terr := CleanupAggregate{AggregateID: "a1", deps: deps}.Run(newFakeCtx())
	require.NotNil(t, terr)
	require.Equal(t, task.KindReason, terr.Kind)

	agg, err := mustStore(t, db).GetAggregate(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.AggregateNew, agg.State)
}

// TestCleanupHost_SkipsForeignHost exercises spec §8 Scenario E: A2's
// cleanup encounters a host whose open allocation now belongs to A1
// (it was already reallocated), and must skip it rather than tearing
// down a host that A2 no longer owns.
func TestCleanupHost_SkipsForeignHost(t *testing.T) {
	db := newTestDB(t)
	seedAggregate(t, db, "a1", "l1", "alice", "active", nil)
	seedAggregate(t, db, "a2", "l2", "bob", "active", nil)

	_, err := db.Exec(`INSERT OR IGNORE INTO labs (id, name) VALUES ('l2', 'lab two')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO resource_handles (id, kind, ref_name, lab_id) VALUES ('rh-h1', 'host', 'h1', 'l1')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO allocations (id, handle_id, aggregate_id, reason, opened_at, closed_at) VALUES ('al1', 'rh-h1', 'a1', 'for-booking', 0, NULL)`)
	require.NoError(t, err)

	s := mustStore(t, db)
	require.NoError(t, s.InsertInstance(context.Background(), &model.Instance{
		ID:           "i2",
		AggregateID:  "a2",
		Template:     model.HostTemplate{FlavorID: "f1"},
		LinkedHostID: "h1",
		State:        "running",
	}))

	inv := fakeInventory{hosts: map[string]model.Host{
		"h1": {ID: "h1", Name: "h1", LabID: "l1"},
	}}

	deps := &Deps{
		Store:     s,
		Allocator: allocator.New(db, zerolog.Nop()),
		Inventory: inv,
		Log:       zerolog.Nop(),
	}

	out, terr := CleanupHost{AggregateID: "a2", InstanceID: "i2", deps: deps}.Run(newFakeCtx())
	require.Nil(t, terr)
	require.Equal(t, "i2", out)

	// The host's allocation still belongs to a1: cleanup must not have
	// touched the instance's state (it only sets "released" on the
	// path it actually tears down).
	instances, err := s.ListInstances(context.Background(), "a2")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "running", instances[0].State)
}

func TestRegisterAll_NoDuplicatePanics(t *testing.T) {
	reg := task.NewRegistry()
	deps := &Deps{Log: zerolog.Nop()}

	require.NotPanics(t, func() { RegisterAll(reg, deps) })

	_, ok := reg.Lookup(task.Named("DeployBooking").Versioned(1))
	require.True(t, ok)
	_, ok = reg.Lookup(task.Named("ApplyNetwork").Versioned(1))
	require.True(t, ok)
}
