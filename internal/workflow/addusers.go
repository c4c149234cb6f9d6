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

	"laas.dev/core/labctld/internal/task"
)

// vpnGroupForLab names the IPA/LDAP group collaborators need to reach a
// lab's management network over VPN.
func vpnGroupForLab(labID string) string { return "lab-" + labID + "-vpn" }

// AddUsers reconciles an aggregate's collaborator list against the IPA
// VPN access group (spec §6 Dispatcher Action set): it never touches
// host or network state, only directory group membership, so it runs
// independently of (and doesn't block on) DeployBooking/CleanupAggregate.
type AddUsers struct {
	AggregateID string `json:"aggregate_id"`

	deps *Deps
}

func (t AddUsers) Identifier() task.Identifier { return task.Named("AddUsers").Versioned(1) }
func (t AddUsers) Timeout() time.Duration       { return 2 * time.Minute }
func (t AddUsers) RetryCount() int              { return 2 }

func (t AddUsers) Run(ctx task.Context) (any, *task.Error) {
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
		found, err := t.deps.UserDir.FindUser(ctx.Context(), username)
		if err != nil {
			return nil, task.Driver(err.Error())
		}
		if !found {
			continue // unknown accounts are silently skipped, never block the rest
		}

		if err := t.deps.UserDir.GroupAddUser(ctx.Context(), group, username); err != nil {
			return nil, task.Driver(err.Error())
		}
	}

	return t.AggregateID, nil
}
