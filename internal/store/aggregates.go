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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"laas.dev/core/labctld/internal/model"
)

// InsertAggregate persists a freshly created Aggregate.
func (s *Store) InsertAggregate(ctx context.Context, a *model.Aggregate) error {
	collab, err := json.Marshal(a.Collaborators)
	if err != nil {
		return err
	}
	tmpl, err := json.Marshal(a.Template)
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}
	nets, err := json.Marshal(a.Networks)
	if err != nil {
		return err
	}

	var expires sql.NullInt64
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregates (id, lab_id, owner, collaborators, template, config, networks, created_at, expires_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.LabID, a.Owner, string(collab), string(tmpl), string(cfg), string(nets), a.CreatedAt.UnixNano(), expires, string(a.State))

	return err
}

// UpdateAggregateState transitions an aggregate's state; callers are
// responsible for checking legality of the transition beforehand (spec
// §9: "refuse operations from unexpected states with a typed error").
func (s *Store) UpdateAggregateState(ctx context.Context, id string, state model.AggregateState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE aggregates SET state = ? WHERE id = ?`, string(state), id)
	return err
}

// UpdateAggregateNetworks persists the filled-in network assignment map.
func (s *Store) UpdateAggregateNetworks(ctx context.Context, id string, networks model.NetworkAssignment) error {
	nets, err := json.Marshal(networks)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE aggregates SET networks = ? WHERE id = ?`, string(nets), id)

	return err
}

// GetAggregate loads one aggregate by id.
func (s *Store) GetAggregate(ctx context.Context, id string) (*model.Aggregate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lab_id, owner, collaborators, template, config, networks, created_at, expires_at, state
		FROM aggregates WHERE id = ?
	`, id)

	var (
		a                          model.Aggregate
		collab, tmpl, cfg, nets    string
		createdNS                  int64
		expires                    sql.NullInt64
		state                      string
	)

	if err := row.Scan(&a.ID, &a.LabID, &a.Owner, &collab, &tmpl, &cfg, &nets, &createdNS, &expires, &state); err != nil {
		return nil, fmt.Errorf("store: get aggregate %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(collab), &a.Collaborators); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tmpl), &a.Template); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
		return nil, err
	}
	if a.Networks == nil {
		a.Networks = model.NetworkAssignment{}
	}
	if err := json.Unmarshal([]byte(nets), &a.Networks); err != nil {
		return nil, err
	}

	a.CreatedAt = time.Unix(0, createdNS)
	if expires.Valid {
		t := time.Unix(0, expires.Int64)
		a.ExpiresAt = &t
	}
	a.State = model.AggregateState(state)

	return &a, nil
}

// ListExpiringActive returns every Active aggregate whose ExpiresAt
// falls at or before before, for the sweep job's "warn before expiry"
// notification (spec §6).
func (s *Store) ListExpiringActive(ctx context.Context, before time.Time) ([]*model.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM aggregates
		WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, string(model.AggregateActive), before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: list expiring aggregates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan expiring aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Aggregate, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, nil
}

// InsertInstance persists one Instance row belonging to an aggregate.
func (s *Store) InsertInstance(ctx context.Context, inst *model.Instance) error {
	tmpl, err := json.Marshal(inst.Template)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (id, aggregate_id, host_handle, image, flavor, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.AggregateID, inst.LinkedHostID, inst.Template.ImageID, inst.Template.FlavorID, inst.State)
	if err != nil {
		return err
	}

	// Template is also kept on the aggregate's template blob as the
	// canonical source; instances.image/flavor columns exist only to
	// make ad hoc inventory queries cheap without a JSON walk.
	_ = tmpl

	return nil
}

// SetInstanceLinkedHost records which physical host an instance was
// allocated.
func (s *Store) SetInstanceLinkedHost(ctx context.Context, instanceID, hostID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE instances SET host_handle = ? WHERE id = ?`, hostID, instanceID)
	return err
}

// UpdateInstanceImage changes the image an instance installs on its next
// Reimage, without touching its flavor, host, or network assignment.
func (s *Store) UpdateInstanceImage(ctx context.Context, instanceID, imageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE instances SET image = ? WHERE id = ?`, imageID, instanceID)
	return err
}

// SetInstanceState updates an instance's workflow-visible state string.
func (s *Store) SetInstanceState(ctx context.Context, instanceID, state string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE instances SET state = ? WHERE id = ?`, state, instanceID)
	return err
}

// ListInstances returns every instance belonging to an aggregate.
func (s *Store) ListInstances(ctx context.Context, aggregateID string) ([]model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, host_handle, image, flavor, state FROM instances WHERE aggregate_id = ?
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		var inst model.Instance
		if err := rows.Scan(&inst.ID, &inst.AggregateID, &inst.LinkedHostID, &inst.Template.ImageID, &inst.Template.FlavorID, &inst.State); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}

	return out, rows.Err()
}

// AppendLogEvent writes one provision log entry (append-only, spec §3
// "Provision log event").
func (s *Store) AppendLogEvent(ctx context.Context, ev model.ProvisionLogEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provision_log_events (instance_id, stage, occurred_at, detail)
		VALUES (?, ?, ?, ?)
	`, ev.InstanceID, string(ev.Sentiment)+":"+ev.Headline, ev.OccurredAt.UnixNano(), ev.Detail)

	return err
}
