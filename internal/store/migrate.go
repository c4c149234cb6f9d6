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
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schema is applied in order; it is intentionally append-only so that
// Migrate is idempotent and safe to run against an already-migrated
// database (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS
// throughout).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS task_records (
		id            TEXT PRIMARY KEY,
		task_name     TEXT NOT NULL,
		task_version  INTEGER NOT NULL,
		params        TEXT NOT NULL,
		parent_id     TEXT NOT NULL DEFAULT '',
		child_ids     TEXT NOT NULL DEFAULT '[]',
		attempt       INTEGER NOT NULL DEFAULT 0,
		deadline      INTEGER NOT NULL,
		status        INTEGER NOT NULL,
		is_target     INTEGER NOT NULL DEFAULT 0,
		enrolled_at   INTEGER NOT NULL,
		enroll_seq    INTEGER NOT NULL,
		result_ok     INTEGER NOT NULL DEFAULT 0,
		result_value  TEXT NOT NULL DEFAULT '',
		result_err    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_status ON task_records(status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_parent ON task_records(parent_id)`,

	`CREATE TABLE IF NOT EXISTS labs (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS flavors (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS vlans (
		id       TEXT PRIMARY KEY,
		vlan_id  INTEGER NOT NULL,
		lab_id   TEXT NOT NULL REFERENCES labs(id),
		public   INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS host_flavors (
		host_id   TEXT PRIMARY KEY,
		flavor_id TEXT NOT NULL REFERENCES flavors(id)
	)`,

	`CREATE TABLE IF NOT EXISTS resource_handles (
		id       TEXT PRIMARY KEY,
		kind     TEXT NOT NULL,
		ref_name TEXT NOT NULL,
		lab_id   TEXT NOT NULL REFERENCES labs(id),
		UNIQUE(kind, ref_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_resource_handles_lab ON resource_handles(lab_id, kind)`,

	`CREATE TABLE IF NOT EXISTS allocations (
		id            TEXT PRIMARY KEY,
		handle_id     TEXT NOT NULL REFERENCES resource_handles(id),
		aggregate_id  TEXT NOT NULL,
		reason        TEXT NOT NULL,
		opened_at     INTEGER NOT NULL,
		closed_at     INTEGER,
		reason_ended  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_open_handle
		ON allocations(handle_id) WHERE closed_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_aggregate ON allocations(aggregate_id)`,

	`CREATE TABLE IF NOT EXISTS aggregates (
		id          TEXT PRIMARY KEY,
		lab_id      TEXT NOT NULL REFERENCES labs(id),
		owner       TEXT NOT NULL,
		collaborators TEXT NOT NULL DEFAULT '[]',
		template    TEXT NOT NULL DEFAULT '{}',
		config      TEXT NOT NULL DEFAULT '{}',
		networks    TEXT NOT NULL DEFAULT '{}',
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER,
		state       TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS instances (
		id            TEXT PRIMARY KEY,
		aggregate_id  TEXT NOT NULL REFERENCES aggregates(id),
		host_handle   TEXT NOT NULL,
		image         TEXT NOT NULL,
		flavor        TEXT NOT NULL,
		state         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_instances_aggregate ON instances(aggregate_id)`,

	`CREATE TABLE IF NOT EXISTS hosts (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		flavor_id  TEXT NOT NULL REFERENCES flavors(id),
		lab_id     TEXT NOT NULL REFERENCES labs(id),
		ipmi_fqdn  TEXT NOT NULL DEFAULT '',
		ipmi_user  TEXT NOT NULL DEFAULT '',
		ipmi_pass  TEXT NOT NULL DEFAULT '',
		bmc_vlan_id        INTEGER NOT NULL DEFAULT 0,
		management_vlan_id INTEGER NOT NULL DEFAULT 0,
		management_address TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS switches (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL,
		management_address  TEXT NOT NULL DEFAULT '',
		ssh_user            TEXT NOT NULL DEFAULT '',
		ssh_password        TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS switch_ports (
		id        TEXT PRIMARY KEY,
		switch_id TEXT NOT NULL REFERENCES switches(id),
		name      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS host_ports (
		id               TEXT PRIMARY KEY,
		host_id          TEXT NOT NULL REFERENCES hosts(id),
		name             TEXT NOT NULL,
		mac              TEXT NOT NULL DEFAULT '',
		bus_addr         TEXT NOT NULL DEFAULT '',
		switch_port_id   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_host_ports_host ON host_ports(host_id)`,

	`CREATE TABLE IF NOT EXISTS production_bonds (
		host_id   TEXT NOT NULL REFERENCES hosts(id),
		name      TEXT NOT NULL,
		ports     TEXT NOT NULL DEFAULT '[]',
		networks  TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (host_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS provision_log_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id   TEXT NOT NULL,
		stage         TEXT NOT NULL,
		occurred_at   INTEGER NOT NULL,
		detail        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provision_log_instance ON provision_log_events(instance_id)`,
}

// Migrate applies schema to db. It is safe to call on every process
// start.
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration step %d: %w", i, err)
		}
	}

	return nil
}

// OpenSQLite opens a local, single-node database via mattn/go-sqlite3,
// for development and the test suite. path may be ":memory:".
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// go-sqlite3 serializes writes internally; a single open connection
	// avoids SQLITE_BUSY from concurrent writers stepping on each other,
	// matching the allocator's single-lock contract (spec §5.4).
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
