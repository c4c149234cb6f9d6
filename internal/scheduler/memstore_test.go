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

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memStore is a minimal in-memory Store used only by this package's own
// tests, so scheduler unit tests never need a real database driver.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (m *memStore) InsertRecord(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.records[r.ID] = &cp

	return nil
}

func (m *memStore) UpdateRecord(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; !ok {
		return fmt.Errorf("memstore: unknown record %s", r.ID)
	}

	cp := *r
	m.records[r.ID] = &cp

	return nil
}

func (m *memStore) GetRecord(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown record %s", id)
	}

	cp := *r

	return &cp, nil
}

func (m *memStore) ListRecoverable(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record

	for _, r := range m.records {
		if r.Status == StatusEnrolled || r.Status == StatusRunnable || r.Status == StatusRunning {
			cp := *r
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnrollSeq < out[j].EnrollSeq })

	return out, nil
}
