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

// Package store is the relational persistence layer behind
// database/sql: task records for the scheduler, and the inventory /
// allocation / aggregate schema for the allocator and booking workflow
// (spec §6). In production the driver is dqlite, a Raft-replicated
// SQLite that keeps the single runtime instance's state crash-safe and
// durable (spec §1: "a single runtime instance owns the whole task
// set"); in dev/test mode the identical schema runs against
// mattn/go-sqlite3, either in-memory or on a local file, behind the same
// Store interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/scheduler"
	"laas.dev/core/labctld/internal/task"
)

// Store is the concrete database/sql-backed implementation of
// scheduler.Store, plus the inventory/allocation/aggregate operations
// the allocator and workflow packages need.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New wraps an already-open *sql.DB (dqlite or sqlite3) that has had
// Migrate applied.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// withRetry retries transient write failures (serialization conflicts,
// a dqlite leader election in flight) with bounded backoff, per spec §7:
// "Persistence errors are retried at the scheduler with bounded
// backoff. Exhaustion fails the task."
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err != nil {
			s.log.Debug().Err(err).Msg("store: transient failure, retrying")
		}
		return err
	}, b)
}

// --- scheduler.Store ---

func (s *Store) InsertRecord(ctx context.Context, r *scheduler.Record) error {
	return s.withRetry(ctx, func() error {
		childIDs, err := json.Marshal(r.ChildIDs)
		if err != nil {
			return err
		}

		var resultErr []byte
		if r.ResultErr != nil {
			resultErr, err = json.Marshal(r.ResultErr)
			if err != nil {
				return err
			}
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO task_records (
				id, task_name, task_version, params, parent_id, child_ids,
				attempt, deadline, status, is_target, enrolled_at, enroll_seq,
				result_ok, result_value, result_err
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID, r.Identifier.Name, r.Identifier.Version, string(r.Params), r.ParentID, string(childIDs),
			r.Attempt, r.Deadline.UnixNano(), int(r.Status), r.IsTarget, r.EnrolledAt.UnixNano(), r.EnrollSeq,
			r.ResultOK, string(r.ResultValue), string(resultErr),
		)

		return err
	})
}

func (s *Store) UpdateRecord(ctx context.Context, r *scheduler.Record) error {
	return s.withRetry(ctx, func() error {
		childIDs, err := json.Marshal(r.ChildIDs)
		if err != nil {
			return err
		}

		var resultErr []byte
		if r.ResultErr != nil {
			resultErr, err = json.Marshal(r.ResultErr)
			if err != nil {
				return err
			}
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE task_records SET
				child_ids = ?, attempt = ?, deadline = ?, status = ?, is_target = ?,
				result_ok = ?, result_value = ?, result_err = ?
			WHERE id = ?
		`,
			string(childIDs), r.Attempt, r.Deadline.UnixNano(), int(r.Status), r.IsTarget,
			r.ResultOK, string(r.ResultValue), string(resultErr), r.ID,
		)

		return err
	})
}

func (s *Store) GetRecord(ctx context.Context, id string) (*scheduler.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_name, task_version, params, parent_id, child_ids, attempt,
			deadline, status, is_target, enrolled_at, enroll_seq, result_ok, result_value, result_err
		FROM task_records WHERE id = ?
	`, id)

	return scanRecord(row)
}

func (s *Store) ListRecoverable(ctx context.Context) ([]*scheduler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_name, task_version, params, parent_id, child_ids, attempt,
			deadline, status, is_target, enrolled_at, enroll_seq, result_ok, result_value, result_err
		FROM task_records
		WHERE status IN (?, ?, ?)
		ORDER BY enroll_seq ASC
	`, int(scheduler.StatusEnrolled), int(scheduler.StatusRunnable), int(scheduler.StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*scheduler.Record

	for rows.Next() {
		r, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*scheduler.Record, error) {
	return scanAny(row)
}

func scanRecordRows(rows *sql.Rows) (*scheduler.Record, error) {
	return scanAny(rows)
}

func scanAny(sc scanner) (*scheduler.Record, error) {
	var (
		r                         scheduler.Record
		deadlineNS, enrolledAtNS  int64
		status                    int
		childIDs, resultValue     string
		resultErr                 string
		name                      string
		version                   int
	)

	err := sc.Scan(
		&r.ID, &name, &version, &r.Params, &r.ParentID, &childIDs, &r.Attempt,
		&deadlineNS, &status, &r.IsTarget, &enrolledAtNS, &r.EnrollSeq,
		&r.ResultOK, &resultValue, &resultErr,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan task record: %w", err)
	}

	r.Identifier = task.Identifier{Name: name, Version: version}
	r.Deadline = time.Unix(0, deadlineNS)
	r.EnrolledAt = time.Unix(0, enrolledAtNS)
	r.Status = scheduler.Status(status)
	r.ResultValue = []byte(resultValue)

	if childIDs != "" {
		if err := json.Unmarshal([]byte(childIDs), &r.ChildIDs); err != nil {
			return nil, err
		}
	}

	if resultErr != "" {
		r.ResultErr = new(task.Error)
		if err := json.Unmarshal([]byte(resultErr), r.ResultErr); err != nil {
			return nil, err
		}
	}

	return &r, nil
}

// DB exposes the underlying *sql.DB for packages (allocator, workflow)
// that need their own queries within the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}
