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

	"laas.dev/core/labctld/internal/ipmi"
	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/netconfig"
	"laas.dev/core/labctld/internal/task"
)

// CleanupAggregate is the best-effort inverse of DeployBooking (spec
// §4.11): fan out CleanupHost to every instance regardless of whether
// its own deploy succeeded, then release every resource the aggregate
// still holds and mark it Done. Individual host failures are logged,
// never fatal — a stuck BMC must not block releasing everything else.
type CleanupAggregate struct {
	AggregateID string `json:"aggregate_id"`

	deps *Deps
}

func (t CleanupAggregate) Identifier() task.Identifier {
	return task.Named("CleanupAggregate").Versioned(1)
}
func (t CleanupAggregate) Timeout() time.Duration { return 15 * time.Minute }
func (t CleanupAggregate) RetryCount() int        { return 0 }

func (t CleanupAggregate) Run(ctx task.Context) (any, *task.Error) {
	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	if agg.State == model.AggregateDone {
		return t.AggregateID, nil
	}

	if agg.State != model.AggregateActive {
		return nil, task.Reason("aggregate %s is in state %s, not Active", agg.ID, agg.State)
	}

	instances, err := t.deps.Store.ListInstances(ctx.Context(), agg.ID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	handles := make([]task.Handle, 0, len(instances))
	for _, inst := range instances {
		h, serr := ctx.Spawn(CleanupHost{AggregateID: agg.ID, InstanceID: inst.ID, deps: t.deps})
		if serr != nil {
			t.deps.Log.Error().Err(serr).Str("instance", inst.ID).Msg("cleanup: failed to spawn CleanupHost")
			continue
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		if _, cerr := h.Join(); cerr != nil {
			t.deps.Log.Warn().Str("task", h.ID).Err(cerr).Msg("cleanup: host cleanup step failed, continuing")
		}
	}

	if terr := t.deps.Allocator.DeallocateAggregate(ctx.Context(), agg.ID); terr != nil {
		t.deps.Log.Warn().Err(terr).Str("aggregate", agg.ID).Msg("cleanup: deallocate aggregate reported an error")
	}

	if err := t.deps.Store.UpdateAggregateState(ctx.Context(), agg.ID, model.AggregateDone); err != nil {
		return nil, task.Storage(err.Error())
	}

	t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
		InstanceID: agg.ID,
		Sentiment:  model.SentimentSucceeded,
		Headline:   "booking cleaned up",
		OccurredAt: now(),
	})

	if _, serr := ctx.Spawn(Notify{AggregateID: agg.ID, Situation: "booking-ended", deps: t.deps}); serr != nil {
		t.deps.Log.Warn().Err(serr).Msg("cleanup: failed to spawn end-of-booking notification")
	}

	if _, serr := ctx.Spawn(VPNResync{AggregateID: agg.ID, deps: t.deps}); serr != nil {
		t.deps.Log.Warn().Err(serr).Msg("cleanup: failed to spawn VPN group resync")
	}

	return t.AggregateID, nil
}

// VPNResync removes an ended booking's collaborators from the lab's VPN
// access group (spec §4.11 step 5). It mirrors AddUsers but in reverse,
// and like AddUsers never blocks the aggregate state transition: a
// directory outage here means stale VPN access, not a broken booking.
type VPNResync struct {
	AggregateID string `json:"aggregate_id"`

	deps *Deps
}

func (t VPNResync) Identifier() task.Identifier { return task.Named("VPNResync").Versioned(1) }
func (t VPNResync) Timeout() time.Duration       { return 2 * time.Minute }
func (t VPNResync) RetryCount() int              { return 2 }

func (t VPNResync) Run(ctx task.Context) (any, *task.Error) {
	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	group := vpnGroupForLab(agg.LabID)

	members := make(map[string]bool, len(agg.Collaborators)+1)
	members[agg.Owner] = true
	for _, c := range agg.Collaborators {
		members[c] = true
	}

	for username := range members {
		if err := t.deps.UserDir.GroupRemoveUser(ctx.Context(), group, username); err != nil {
			t.deps.Log.Warn().Err(err).Str("group", group).Str("user", username).Msg("cleanup: vpn group removal failed")
		}
	}

	return t.AggregateID, nil
}

// CleanupHost powers off one instance's host, strips its collaborator
// IPMI account, and drops it back to the empty (isolated) network
// config, so it is never left mid-reconfiguration between bookings.
type CleanupHost struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`

	deps *Deps
}

func (t CleanupHost) Identifier() task.Identifier { return task.Named("CleanupHost").Versioned(1) }
func (t CleanupHost) Timeout() time.Duration       { return 5 * time.Minute }
func (t CleanupHost) RetryCount() int              { return 2 }

func (t CleanupHost) Run(ctx task.Context) (any, *task.Error) {
	_, host, _, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		// No linked host is not an error here: the instance may have
		// failed before AllocateHost ever ran.
		if terr.Kind == task.KindReason {
			return t.InstanceID, nil
		}
		return nil, terr
	}

	owner, ok, err := t.deps.Allocator.CurrentOwner(ctx.Context(), host.ID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}
	if !ok || owner != t.AggregateID {
		t.deps.Log.Warn().Str("host", host.ID).Str("aggregate", t.AggregateID).Msg("cleanup: host no longer owned by this aggregate, skipping")
		return t.InstanceID, nil
	}

	if err := t.deps.IPMI.SetPower(ctx.Context(), host, ipmi.PowerOff); err != nil {
		t.deps.Log.Warn().Err(err).Str("host", host.ID).Msg("cleanup: power off failed")
	}

	if err := t.deps.IPMI.DeleteIPMIAccount(ctx.Context(), host, collaboratorUserID); err != nil {
		t.deps.Log.Warn().Err(err).Str("host", host.ID).Msg("cleanup: delete ipmi account failed")
	}

	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return nil, task.Storage(err.Error())
	}

	managementVlan := t.deps.Inventory.ManagementVlan(agg.LabID)
	cfg := netconfig.Empty(host, managementVlan)

	if len(host.Ports) > 0 {
		sw, err := t.deps.Inventory.SwitchForPort(host.Ports[0].ID)
		if err != nil {
			t.deps.Log.Warn().Err(err).Str("host", host.ID).Msg("cleanup: resolve switch failed")
		} else if err := t.deps.Switches.Apply(ctx.Context(), sw.ID, cfg, t.deps.Driver); err != nil {
			t.deps.Log.Warn().Err(err).Str("host", host.ID).Msg("cleanup: reset network config failed")
		}
	}

	if err := t.deps.Store.SetInstanceState(ctx.Context(), t.InstanceID, "released"); err != nil {
		return nil, task.Storage(err.Error())
	}

	return t.InstanceID, nil
}
