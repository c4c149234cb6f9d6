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

package task

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Entry is a registry row: a task type's identity plus its
// deserialize/serialize/output-type triple. Entries are supplied at
// build time via Register, mirroring spec §4.1's "compile-time table".
type Entry struct {
	Identifier  Identifier
	OutputType  reflect.Type
	Deserialize func(params json.RawMessage) (Runnable, error)
	Serialize   func(Runnable) (json.RawMessage, error)
}

// Registry is a process-wide table mapping (name, version) to the
// function pointers needed to run a persisted task record. Lookup
// failure during deserialization of a persisted task is fatal for that
// task (poisoned); callers must surface an error result, never silently
// drop the record.
type Registry struct {
	mu      sync.RWMutex
	entries map[Identifier]Entry
}

// NewRegistry returns an empty registry. cmd/labctld builds its registry
// this way and fills it with workflow.RegisterAll; tests construct
// isolated ones the same way.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Identifier]Entry)}
}

// Default is the package-level registry that Register adds entries to.
// No package registers into it from an init function, and cmd/labctld
// does not hand it to the scheduler.
var Default = NewRegistry()

// Register adds an entry for task type T, keyed by the zero value's
// Identifier(). It panics on duplicate registration: that is a build
// time programming error, not a runtime condition.
func Register[T Runnable](outputSample any) {
	var zero T

	id := zero.Identifier()

	entry := Entry{
		Identifier: id,
		OutputType: reflect.TypeOf(outputSample),
		Deserialize: func(params json.RawMessage) (Runnable, error) {
			v := new(T)
			if len(params) > 0 {
				if err := json.Unmarshal(params, v); err != nil {
					return nil, fmt.Errorf("deserialize task %s: %w", id, err)
				}
			}
			return *v, nil
		},
		Serialize: func(r Runnable) (json.RawMessage, error) {
			return json.Marshal(r)
		},
	}

	Default.MustRegister(entry)
}

// MustRegister adds e to the registry, panicking on a duplicate
// (name, version) key.
func (r *Registry) MustRegister(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.Identifier]; exists {
		panic(fmt.Sprintf("task: duplicate registration for %s", e.Identifier))
	}

	r.entries[e.Identifier] = e
}

// Lookup returns the entry for id, if any.
func (r *Registry) Lookup(id Identifier) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e, ok
}
