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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/task"
)

// DeployBooking is the top-level aggregate deployer (spec §4.10).
type DeployBooking struct {
	AggregateID string `json:"aggregate_id"`

	deps *Deps
}

func (t DeployBooking) Identifier() task.Identifier { return task.Named("DeployBooking").Versioned(1) }
func (t DeployBooking) Timeout() time.Duration       { return 20 * time.Minute }
func (t DeployBooking) RetryCount() int              { return 0 }

func (t DeployBooking) Run(ctx task.Context) (any, *task.Error) {
	_, span := t.deps.tracer().Start(ctx.Context(), "DeployBooking", trace.WithAttributes(attribute.String("aggregate_id", t.AggregateID)))
	defer span.End()

	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	if agg.State != model.AggregateNew {
		return nil, task.Reason("aggregate %s is in state %s, not New", agg.ID, agg.State)
	}

	instances, err := t.deps.Store.ListInstances(ctx.Context(), agg.ID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	var opened []string // resource handle ids, for rollback on partial failure

	for i := range instances {
		hostID, handleID, terr := t.deps.Allocator.AllocateHost(ctx.Context(), instances[i].Template.FlavorID, agg.ID, model.ReasonForBooking, false)
		if terr != nil {
			return t.failEarly(ctx, agg.ID, opened, terr)
		}

		opened = append(opened, handleID)

		if err := t.deps.Store.SetInstanceLinkedHost(ctx.Context(), instances[i].ID, hostID); err != nil {
			return t.failEarly(ctx, agg.ID, opened, task.Storage(err.Error()))
		}
		instances[i].LinkedHostID = hostID
	}

	if terr := t.deps.Allocator.AllocateVlansFor(ctx.Context(), agg.LabID, agg.ID, agg.Template.Networks, publicNetworkSet(agg.Template), agg.Networks); terr != nil {
		return t.failEarly(ctx, agg.ID, opened, terr)
	}

	if err := t.deps.Store.UpdateAggregateNetworks(ctx.Context(), agg.ID, agg.Networks); err != nil {
		return t.failEarly(ctx, agg.ID, opened, task.Storage(err.Error()))
	}

	type childResult struct {
		instanceID string
		err        *task.Error
	}

	handles := make([]task.Handle, len(instances))
	for i, inst := range instances {
		h, serr := ctx.Spawn(DeployHost{AggregateID: agg.ID, InstanceID: inst.ID, deps: t.deps})
		if serr != nil {
			return nil, task.Reason("spawn DeployHost for %s: %s", inst.ID, serr)
		}
		handles[i] = h
	}

	var failed []childResult
	for i, h := range handles {
		_, cerr := h.Join()
		if cerr != nil {
			failed = append(failed, childResult{instances[i].ID, cerr})
		}
	}

	if len(failed) > 0 {
		if _, serr := ctx.Spawn(CleanupAggregate{AggregateID: agg.ID, deps: t.deps}); serr != nil {
			t.deps.Log.Error().Err(serr).Str("aggregate", agg.ID).Msg("failed to spawn cleanup after partial deploy failure")
		}

		return nil, task.ChildFailed(failed[0].instanceID, failed[0].err)
	}

	if err := t.deps.Store.UpdateAggregateState(ctx.Context(), agg.ID, model.AggregateActive); err != nil {
		return nil, task.Storage(err.Error())
	}

	t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
		InstanceID: agg.ID,
		Sentiment:  model.SentimentSucceeded,
		Headline:   "booking created",
		OccurredAt: now(),
	})

	if _, serr := ctx.Spawn(Notify{AggregateID: agg.ID, Situation: "booking-created", deps: t.deps}); serr != nil {
		t.deps.Log.Warn().Err(serr).Str("aggregate", agg.ID).Msg("failed to spawn booking-created notification")
	}

	return agg.ID, nil
}

func (t DeployBooking) rollback(ctx task.Context, aggregateID string, opened []string) {
	for _, handleID := range opened {
		t.deps.Allocator.DeallocateHost(ctx.Context(), handleID, aggregateID) //nolint:errcheck
	}
}

// failEarly handles an allocation-phase failure (spec §8 Scenario B):
// the aggregate is still New at this point, before CleanupAggregate's
// Active-only guard would ever accept it, so this releases whatever was
// opened and moves the aggregate directly to Done itself rather than
// leaving it stuck in New forever.
func (t DeployBooking) failEarly(ctx task.Context, aggregateID string, opened []string, terr *task.Error) (any, *task.Error) {
	t.rollback(ctx, aggregateID, opened)

	if err := t.deps.Store.UpdateAggregateState(ctx.Context(), aggregateID, model.AggregateDone); err != nil {
		t.deps.Log.Error().Err(err).Str("aggregate", aggregateID).Msg("failed to mark aggregate done after early allocation failure")
	}

	t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
		InstanceID: aggregateID,
		Sentiment:  model.SentimentFailed,
		Headline:   "booking allocation failed",
		Detail:     terr.Error(),
		OccurredAt: now(),
	})

	return nil, terr
}

func publicNetworkSet(tmpl model.BookingTemplate) map[string]bool {
	// Placeholder policy until the dashboard config distinguishes public
	// vs private networks explicitly: treat every template network as
	// private, matching the common case of an isolated lab booking.
	out := make(map[string]bool, len(tmpl.Networks))
	for _, n := range tmpl.Networks {
		out[n] = false
	}

	return out
}

func now() time.Time { return time.Now() }
