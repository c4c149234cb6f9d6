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

package netconfig

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// SwitchLocks is a map from switch identity to a lock acquired for the
// duration of a config apply (spec §9: "express as a map from switch id
// to a lock ... purge unused entries on shutdown"). The bounded LRU
// cache is the purge mechanism: a switch that hasn't been touched
// recently is evicted, and Close drops every entry.
type SwitchLocks struct {
	cache *lru.Cache[string, *sync.Mutex]
	log   zerolog.Logger
}

// NewSwitchLocks builds a registry that retains locks for up to
// maxSwitches distinct switch identities.
func NewSwitchLocks(maxSwitches int, log zerolog.Logger) (*SwitchLocks, error) {
	c, err := lru.New[string, *sync.Mutex](maxSwitches)
	if err != nil {
		return nil, err
	}

	return &SwitchLocks{cache: c, log: log}, nil
}

func (s *SwitchLocks) lockFor(switchID string) *sync.Mutex {
	if l, ok := s.cache.Get(switchID); ok {
		return l
	}

	l := &sync.Mutex{}
	if prev, ok, _ := s.cache.PeekOrAdd(switchID, l); ok {
		return prev
	}

	return l
}

// Apply serializes cfg's application to switchID against any other
// concurrent Apply call naming the same switch (spec §8 property 9).
func (s *SwitchLocks) Apply(ctx context.Context, switchID string, cfg NetworkConfig, driver Driver) error {
	l := s.lockFor(switchID)
	l.Lock()
	defer l.Unlock()

	s.log.Debug().Str("switch", switchID).Msg("applying network config")

	return driver.Apply(ctx, switchID, cfg)
}

// Close drops every retained lock; safe because a lock held by an
// in-flight Apply keeps its *sync.Mutex alive via the caller's stack
// frame even after eviction from the cache.
func (s *SwitchLocks) Close() {
	s.cache.Purge()
}
