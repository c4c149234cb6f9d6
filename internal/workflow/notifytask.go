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

package workflow

import (
	"time"

	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/task"
)

// Notify wraps one out-of-band notification as its own task so a flaky
// transport (SMTP, webhook) retries independently of the workflow step
// that triggered it and never fails the booking itself (spec §6).
type Notify struct {
	AggregateID string `json:"aggregate_id"`
	Situation   string `json:"situation"`

	deps *Deps
}

func (t Notify) Identifier() task.Identifier { return task.Named("Notify").Versioned(1) }
func (t Notify) Timeout() time.Duration       { return time.Minute }
func (t Notify) RetryCount() int              { return 3 }

func (t Notify) Run(ctx task.Context) (any, *task.Error) {
	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	info := notify.BookingInfo{
		AggregateID: agg.ID,
		Owner:       agg.Owner,
		LabName:     agg.LabID,
	}

	if err := t.deps.Notifier.Send(ctx.Context(), notify.Situation(t.Situation), info); err != nil {
		return nil, task.Reason("send %s notification for %s: %s", t.Situation, agg.ID, err)
	}

	return nil, nil
}
