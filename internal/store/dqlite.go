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
	"fmt"

	"github.com/canonical/go-dqlite/v2/app"
)

// ClusterConfig describes a dqlite node's membership in the Raft
// cluster backing the runtime's single logical task set (spec §1: one
// runtime instance, durable across crashes). A single-node deployment
// still runs dqlite, just with an empty Join list.
type ClusterConfig struct {
	// Dir is where dqlite keeps its Raft log and snapshots.
	Dir string
	// Address is this node's own cluster address, host:port.
	Address string
	// Join lists existing cluster member addresses to bootstrap from;
	// empty for the first node.
	Join []string
}

// OpenDqlite starts (or joins) a dqlite node and returns a *sql.DB
// bound to its "labctld" database, for production multi-node
// deployments where the task store must survive a single node's crash.
func OpenDqlite(ctx context.Context, cfg ClusterConfig) (*sql.DB, func() error, error) {
	opts := []app.Option{app.WithAddress(cfg.Address)}
	if len(cfg.Join) > 0 {
		opts = append(opts, app.WithCluster(cfg.Join))
	}

	a, err := app.New(cfg.Dir, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: start dqlite node: %w", err)
	}

	if err := a.Ready(ctx); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("store: dqlite node not ready: %w", err)
	}

	db, err := a.Open(ctx, "labctld")
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("store: open dqlite database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		a.Close()
		return nil, nil, err
	}

	return db, a.Close, nil
}
