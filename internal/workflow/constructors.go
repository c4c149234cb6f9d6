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

import "laas.dev/core/labctld/internal/notify"

// The task structs themselves carry an unexported deps field, injected
// by the registry's Deserialize closures on recovery; these
// constructors are the only way a caller outside this package (namely
// internal/dispatch) can build one for a fresh enroll.

func NewDeployBooking(aggregateID string, deps *Deps) DeployBooking {
	return DeployBooking{AggregateID: aggregateID, deps: deps}
}

func NewCleanupAggregate(aggregateID string, deps *Deps) CleanupAggregate {
	return CleanupAggregate{AggregateID: aggregateID, deps: deps}
}

func NewAddUsers(aggregateID string, deps *Deps) AddUsers {
	return AddUsers{AggregateID: aggregateID, deps: deps}
}

func NewReimage(aggregateID, instanceID, imageID string, deps *Deps) Reimage {
	return Reimage{AggregateID: aggregateID, InstanceID: instanceID, ImageID: imageID, deps: deps}
}

func NewNotify(aggregateID string, situation notify.Situation, deps *Deps) Notify {
	return Notify{AggregateID: aggregateID, Situation: string(situation), deps: deps}
}
