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

// Package allocator is the ownership registry over physical hosts and
// VLANs (spec §4.7): it owns resource handles and allocates/deallocates
// them with reason and aggregate linkage, under a single process-wide
// lock and a single relational transaction per call (spec §5 "Shared-
// resource policy").
package allocator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/task"
)

// Allocator is a single process-wide instance (spec §9: "model as
// explicit services created at startup and passed by reference").
// Tests construct isolated instances over an in-memory sqlite database.
type Allocator struct {
	mu  sync.Mutex
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// New constructs an Allocator over db, which must already carry the
// resource_handles/allocations schema from internal/store.Migrate.
func New(db *sql.DB, log zerolog.Logger) *Allocator {
	return &Allocator{db: db, log: log, now: time.Now}
}

func errNoMatchingFlavor(flavor string) *task.Error {
	return task.NoneAvailable(fmt.Sprintf("no resource handle for flavor %q", flavor))
}

func errNoneAvailable(msg string) *task.Error {
	return task.NoneAvailable(msg)
}

func errNotOwner(msg string) *task.Error {
	return task.NotOwner(msg)
}

func errStorage(err error) *task.Error {
	return task.Storage(err.Error())
}

// AllocateHost finds a host whose flavor matches flavorID, whose
// resource handle has no open allocation, and whose lab matches
// aggregate's lab, and opens an allocation for it. If dryRun, the
// tentative allocation is rolled back before returning (spec §8
// property 3: dry-run neutrality).
func (a *Allocator) AllocateHost(ctx context.Context, flavorID, aggregateID string, reason model.AllocationReason, dryRun bool) (hostID, handleID string, terr *task.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", errStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var labID string
	if err := tx.QueryRowContext(ctx, `SELECT lab_id FROM aggregates WHERE id = ?`, aggregateID).Scan(&labID); err != nil {
		return "", "", errStorage(fmt.Errorf("resolve aggregate lab: %w", err))
	}

	row := tx.QueryRowContext(ctx, `
		SELECT rh.id, rh.ref_name
		FROM resource_handles rh
		JOIN host_flavors hf ON hf.host_id = rh.ref_name
		WHERE rh.kind = 'host' AND rh.lab_id = ? AND hf.flavor_id = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM allocations al
		      WHERE al.handle_id = rh.id AND al.closed_at IS NULL
		  )
		LIMIT 1
	`, labID, flavorID)

	if err := row.Scan(&handleID, &hostID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", errNoMatchingFlavor(flavorID)
		}
		return "", "", errStorage(err)
	}

	allocID := uuid.NewString()
	now := a.now()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allocations (id, handle_id, aggregate_id, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`, allocID, handleID, aggregateID, string(reason), now.UnixNano()); err != nil {
		return "", "", errStorage(err)
	}

	if dryRun {
		// Rolling back on defer leaves state exactly as it was
		// pre-call; report the would-be ids without committing.
		return hostID, handleID, nil
	}

	if err := tx.Commit(); err != nil {
		return "", "", errStorage(err)
	}

	return hostID, handleID, nil
}

// AllocateSpecificHost is AllocateHost narrowed to one known host id.
func (a *Allocator) AllocateSpecificHost(ctx context.Context, hostID, aggregateID string, reason model.AllocationReason) (handleID string, terr *task.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT rh.id FROM resource_handles rh
		WHERE rh.kind = 'host' AND rh.ref_name = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM allocations al WHERE al.handle_id = rh.id AND al.closed_at IS NULL
		  )
	`, hostID)

	if err := row.Scan(&handleID); err != nil {
		if err == sql.ErrNoRows {
			return "", errNoneAvailable(fmt.Sprintf("host %q has no free resource handle", hostID))
		}
		return "", errStorage(err)
	}

	allocID := uuid.NewString()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allocations (id, handle_id, aggregate_id, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`, allocID, handleID, aggregateID, string(reason), a.now().UnixNano()); err != nil {
		return "", errStorage(err)
	}

	if err := tx.Commit(); err != nil {
		return "", errStorage(err)
	}

	return handleID, nil
}

// AllocateVlansFor picks one free VLAN per network in networks (public
// VLANs for networks the template marks public, private otherwise) and
// writes network -> vlan pairs into assignment. All-or-nothing: on
// partial failure every VLAN allocated within this call is rolled back
// (spec §4.7).
func (a *Allocator) AllocateVlansFor(ctx context.Context, labID, aggregateID string, networks []string, publicNetworks map[string]bool, assignment model.NetworkAssignment) *task.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, net := range networks {
		public := publicNetworks[net]

		var handleID, vlanRef string
		row := tx.QueryRowContext(ctx, `
			SELECT rh.id, rh.ref_name FROM resource_handles rh
			JOIN vlans v ON v.id = rh.ref_name
			WHERE rh.kind = 'vlan' AND rh.lab_id = ? AND v.public = ?
			  AND NOT EXISTS (
			      SELECT 1 FROM allocations al WHERE al.handle_id = rh.id AND al.closed_at IS NULL
			  )
			LIMIT 1
		`, labID, public)

		if err := row.Scan(&handleID, &vlanRef); err != nil {
			if err == sql.ErrNoRows {
				return errNoneAvailable(fmt.Sprintf("no free vlan for network %q (public=%v)", net, public))
			}
			return errStorage(err)
		}

		allocID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO allocations (id, handle_id, aggregate_id, reason, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?, NULL)
		`, allocID, handleID, aggregateID, string(model.ReasonForBooking), a.now().UnixNano()); err != nil {
			return errStorage(err)
		}

		assignment[net] = vlanRef
	}

	if err := tx.Commit(); err != nil {
		return errStorage(err)
	}

	return nil
}

// DeallocateHost closes the open allocation on handleID if it belongs
// to aggregateID; errors not-owner otherwise. Idempotent if already
// closed.
func (a *Allocator) DeallocateHost(ctx context.Context, handleID, aggregateID string) *task.Error {
	return a.closeAllocation(ctx, handleID, aggregateID)
}

func (a *Allocator) closeAllocation(ctx context.Context, handleID, aggregateID string) *task.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner string
	row := tx.QueryRowContext(ctx, `
		SELECT aggregate_id FROM allocations WHERE handle_id = ? AND closed_at IS NULL
	`, handleID)

	switch err := row.Scan(&owner); {
	case err == sql.ErrNoRows:
		return nil // already closed: idempotent
	case err != nil:
		return errStorage(err)
	}

	if owner != aggregateID {
		return errNotOwner(fmt.Sprintf("handle %q is owned by aggregate %q, not %q", handleID, owner, aggregateID))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE allocations SET closed_at = ? WHERE handle_id = ? AND closed_at IS NULL
	`, a.now().UnixNano(), handleID); err != nil {
		return errStorage(err)
	}

	if err := tx.Commit(); err != nil {
		return errStorage(err)
	}

	return nil
}

// DeallocateAggregate closes every open allocation attributed to
// aggregateID (spec §8 property 2: aggregate conservation).
func (a *Allocator) DeallocateAggregate(ctx context.Context, aggregateID string) *task.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE allocations SET closed_at = ? WHERE aggregate_id = ? AND closed_at IS NULL
	`, a.now().UnixNano(), aggregateID); err != nil {
		return errStorage(err)
	}

	if err := tx.Commit(); err != nil {
		return errStorage(err)
	}

	return nil
}

// GetFreeHosts enumerates hosts in labID with no open allocation, for
// CLI/HTTP front ends outside this core.
func (a *Allocator) GetFreeHosts(ctx context.Context, labID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT rh.ref_name FROM resource_handles rh
		WHERE rh.kind = 'host' AND rh.lab_id = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM allocations al WHERE al.handle_id = rh.id AND al.closed_at IS NULL
		  )
	`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}

	return out, rows.Err()
}

// QueryAllocated enumerates currently-open allocations of kind in lab.
func (a *Allocator) QueryAllocated(ctx context.Context, labID string, kind model.ResourceKind) ([]model.Allocation, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT al.id, al.handle_id, al.aggregate_id, al.reason, al.opened_at
		FROM allocations al
		JOIN resource_handles rh ON rh.id = al.handle_id
		WHERE rh.kind = ? AND rh.lab_id = ? AND al.closed_at IS NULL
	`, string(kind), labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Allocation
	for rows.Next() {
		var (
			al      model.Allocation
			reason  string
			openedNS int64
		)
		if err := rows.Scan(&al.ID, &al.HandleID, &al.AggregateID, &reason, &openedNS); err != nil {
			return nil, err
		}
		al.Reason = model.AllocationReason(reason)
		al.OpenedAt = time.Unix(0, openedNS)
		out = append(out, al)
	}

	return out, rows.Err()
}

// CurrentOwner reports the aggregate a host's open allocation currently
// belongs to, if any. ok is false if the host has no open allocation
// (original_source's cleanup_booking/mod.rs `currently_owned_by` check).
func (a *Allocator) CurrentOwner(ctx context.Context, hostID string) (aggregateID string, ok bool, err error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT al.aggregate_id FROM allocations al
		JOIN resource_handles rh ON rh.id = al.handle_id
		WHERE rh.kind = 'host' AND rh.ref_name = ? AND al.closed_at IS NULL
	`, hostID)

	switch err := row.Scan(&aggregateID); {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, err
	}

	return aggregateID, true, nil
}

// OpenAllocationCount reports how many allocations across all labs are
// currently open, for the metrics gauge (spec §3 "Metrics").
func (a *Allocator) OpenAllocationCount(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM allocations WHERE closed_at IS NULL`).Scan(&n)
	return n, err
}
