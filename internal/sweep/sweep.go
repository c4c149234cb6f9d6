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

// Package sweep runs the periodic jobs that aren't triggered by any
// single booking or cleanup request: warning owners of an aggregate
// approaching its expiry (spec §6 "Notifications", booking-expiring).
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/dispatch"
	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/store"
)

// Dispatcher is the subset of dispatch.Dispatcher the sweeper needs,
// narrowed to keep this package's tests free of a real runtime.
type Dispatcher interface {
	Send(action dispatch.Action)
}

// Sweeper periodically scans for active aggregates nearing ExpiresAt
// and dispatches a booking-expiring notification for each, exactly
// once per aggregate per process lifetime (tracked in-memory; a
// restart may re-notify, which is preferable to silently missing a
// warning).
type Sweeper struct {
	store        *store.Store
	dispatcher   Dispatcher
	warnBefore   time.Duration
	log          zerolog.Logger
	cron         *cron.Cron
	notifiedOnce map[string]bool
}

// New builds a Sweeper. warnBefore is how far ahead of ExpiresAt the
// warning fires, e.g. one hour.
func New(st *store.Store, d Dispatcher, warnBefore time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:        st,
		dispatcher:   d,
		warnBefore:   warnBefore,
		log:          log,
		cron:         cron.New(),
		notifiedOnce: make(map[string]bool),
	}
}

// Start schedules the expiry scan on spec (a robfig/cron/v3 expression,
// e.g. "@every 5m") and begins running it in the background.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.scanExpiring)
	if err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop halts the cron scheduler and waits for any in-flight run to
// finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) scanExpiring() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aggs, err := s.store.ListExpiringActive(ctx, time.Now().Add(s.warnBefore))
	if err != nil {
		s.log.Error().Err(err).Msg("sweep: list expiring aggregates")
		return
	}

	for _, agg := range aggs {
		if s.notifiedOnce[agg.ID] {
			continue
		}

		s.dispatcher.Send(dispatch.NotifyTask(agg.ID, notify.SituationBookingExpiring))
		s.notifiedOnce[agg.ID] = true

		s.log.Info().Str("aggregate", agg.ID).Time("expires_at", *agg.ExpiresAt).Msg("sweep: booking expiring soon")
	}
}
