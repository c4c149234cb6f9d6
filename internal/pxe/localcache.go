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

package pxe

import (
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// LocalCache mirrors every artifact pushed over SFTP to a local
// directory, for debugging and for the dev/single-node deployment where
// the boot server is the same host as the runtime. Writes are
// crash-atomic: a reader never observes a partially written file.
type LocalCache struct {
	dir string
}

// NewLocalCache builds a cache rooted at dir, creating it if absent.
func NewLocalCache(dir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &LocalCache{dir: dir}, nil
}

// Put atomically writes contents to relPath under the cache root.
func (c *LocalCache) Put(relPath, contents string) error {
	full := filepath.Join(c.dir, relPath)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	return renameio.WriteFile(full, []byte(contents), 0o644)
}
