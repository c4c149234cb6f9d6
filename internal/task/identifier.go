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

// Package task holds the types a task body is written against: its
// identity, its failure model, and the oneshot cell the scheduler uses to
// deliver a result to joiners. It has no dependency on the scheduler or
// runtime packages so that task bodies never see scheduling internals.
package task

import "fmt"

// Identifier names a task type by (name, version). Lookup failure for a
// persisted task's Identifier is fatal for that task's record, never a
// silent drop.
type Identifier struct {
	Name    string
	Version int
}

// Named returns an Identifier at version 1.
func Named(name string) Identifier {
	return Identifier{Name: name, Version: 1}
}

// Versioned returns a copy of id pinned to the given version.
func (id Identifier) Versioned(v int) Identifier {
	id.Version = v
	return id
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s@v%d", id.Name, id.Version)
}
