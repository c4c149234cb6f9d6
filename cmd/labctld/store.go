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

package main

import (
	"context"
	"database/sql"
	"fmt"

	"laas.dev/core/labctld/internal/config"
	"laas.dev/core/labctld/internal/store"
)

// openStore dials the configured backend and returns the open database
// plus a close func that tears down whichever driver was used.
func openStore(ctx context.Context, cfg config.Config) (*sql.DB, func(), error) {
	switch cfg.Store.Driver {
	case "dqlite":
		if int(cfg.Store.NodeID) >= len(cfg.Store.Cluster) {
			return nil, nil, fmt.Errorf("store.node_id %d out of range for store.cluster of length %d", cfg.Store.NodeID, len(cfg.Store.Cluster))
		}

		self := cfg.Store.Cluster[cfg.Store.NodeID]

		var peers []string
		for i, addr := range cfg.Store.Cluster {
			if uint64(i) != cfg.Store.NodeID {
				peers = append(peers, addr)
			}
		}

		db, closeNode, err := store.OpenDqlite(ctx, store.ClusterConfig{
			Dir:     cfg.Store.Path,
			Address: self,
			Join:    peers,
		})
		if err != nil {
			return nil, nil, err
		}

		return db, func() {
			db.Close()
			closeNode() //nolint:errcheck
		}, nil

	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}

		return db, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
